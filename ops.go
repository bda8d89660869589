package hashdb

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/forensicdb/hashdb/internal/changes"
	"github.com/forensicdb/hashdb/internal/history"
	"github.com/forensicdb/hashdb/internal/progress"
	"github.com/forensicdb/hashdb/internal/settings"
	"github.com/forensicdb/hashdb/pkg/hashtypes"
)

// The set-algebra operators work over whole database directories.
// Each one opens its inputs read-only, creates the output with the
// inputs' settings when it does not exist yet, streams, appends a
// history operation to the output that embeds the inputs' histories,
// and emits the change record to out.

func requireDifferent(dirs ...string) error {
	for i := range dirs {
		for j := i + 1; j < len(dirs); j++ {
			if dirs[i] == dirs[j] {
				return fmt.Errorf("the databases must not be the same one: %s", dirs[i])
			}
		}
	}
	return nil
}

func requireCompatible(dbs ...*Database) error {
	for _, db := range dbs[1:] {
		if err := dbs[0].Settings.Compatible(&db.Settings); err != nil {
			return fmt.Errorf("incompatible databases %s and %s: %w",
				dbs[0].Dir, db.Dir, err)
		}
	}
	return nil
}

// openOutput opens dir read-write, creating it with the settings of
// from when it is not a database yet.
func openOutput(dir string, from *Database, logger *logrus.Logger) (*Database, error) {
	if !settings.IsDatabaseDir(dir) {
		return Create(dir, from.Settings, logger)
	}
	return Open(dir, ReadWrite, logger)
}

// copier moves occurrences between databases, translating source ids
// through the destination's source-id store and carrying each
// source's names and data on first encounter.
type copier struct {
	dst     *Database
	changes *changes.ChangeRecord
	carried map[hashtypes.SourceID]map[hashtypes.SourceID]bool
}

func newCopier(dst *Database, c *changes.ChangeRecord) *copier {
	return &copier{
		dst:     dst,
		changes: c,
		carried: make(map[hashtypes.SourceID]map[hashtypes.SourceID]bool),
	}
}

// srcTag tags carried ids per source database so two inputs with
// colliding id spaces stay separate.
func (cp *copier) copy(src *Database, srcTag hashtypes.SourceID,
	hash []byte, occ hashtypes.Occurrence) error {

	fileHash, found, err := src.SourceHash(occ.SourceID)
	if err != nil {
		return err
	}
	if !found {
		cp.changes.HashesNotInsertedUnknownSourceID++
		return nil
	}

	done := cp.carried[srcTag]
	if done == nil {
		done = make(map[hashtypes.SourceID]bool)
		cp.carried[srcTag] = done
	}
	if !done[occ.SourceID] {
		names, err := src.SourceNames(occ.SourceID)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := cp.dst.InsertSourceName(fileHash,
				name.RepositoryName, name.Filename); err != nil {
				return err
			}
		}
		if d, hasData, err := src.SourceData(occ.SourceID); err != nil {
			return err
		} else if hasData {
			if err := cp.dst.InsertSourceData(fileHash, d); err != nil {
				return err
			}
		}
		done[occ.SourceID] = true
	}

	return cp.dst.InsertHash(hash, fileHash,
		occ.FileOffset, occ.Entropy, occ.BlockLabel, cp.changes)
}

func finishOp(out io.Writer, dst *Database, op *history.Operation,
	c *changes.ChangeRecord, inputs ...string) error {

	for _, dir := range inputs {
		if err := op.MergeFrom(dir); err != nil {
			return err
		}
	}
	op.Finish(c)
	if err := history.Append(dst.Dir, op); err != nil {
		return err
	}
	_, err := fmt.Fprint(out, c.String())
	return err
}

// Add streams every occurrence of A into B.
func Add(dirA, dirB string, logger *logrus.Logger, out io.Writer) error {
	if err := requireDifferent(dirA, dirB); err != nil {
		return err
	}
	a, err := Open(dirA, ReadOnly, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := openOutput(dirB, a, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := requireCompatible(a, b); err != nil {
		return err
	}

	op := history.NewOperation("add")
	op.AddParameter("hashdb_dir1", dirA)
	op.AddParameter("hashdb_dir2", dirB)

	var c changes.ChangeRecord
	cp := newCopier(b, &c)
	sizes, err := a.Sizes()
	if err != nil {
		return err
	}
	tracker := progress.New(logger, "add", sizes.HashStore)
	err = a.Iterate(context.Background(), func(hash []byte, occ hashtypes.Occurrence) (bool, error) {
		tracker.Track()
		return true, cp.copy(a, 1, hash, occ)
	})
	if err != nil {
		return err
	}
	tracker.Done()

	return finishOp(out, b, op, &c, dirA)
}

// hashItem is one element of an occurrence stream.
type hashItem struct {
	hash []byte
	occ  hashtypes.Occurrence
}

// stream pumps a database's occurrences through a channel so two
// inputs can be merge-joined in key order.
func stream(ctx context.Context, db *Database) (<-chan hashItem, <-chan error) {
	items := make(chan hashItem, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(items)
		defer close(errc)
		err := db.Iterate(ctx, func(hash []byte, occ hashtypes.Occurrence) (bool, error) {
			select {
			case items <- hashItem{hash: hash, occ: occ}:
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
		})
		if err != nil {
			errc <- err
		}
	}()
	return items, errc
}

// AddMultiple merge-streams A and B in ascending hash order into C,
// preferring A on ties.
func AddMultiple(dirA, dirB, dirC string, logger *logrus.Logger, out io.Writer) error {
	if err := requireDifferent(dirA, dirB, dirC); err != nil {
		return err
	}
	a, err := Open(dirA, ReadOnly, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := Open(dirB, ReadOnly, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	dst, err := openOutput(dirC, a, logger)
	if err != nil {
		return err
	}
	defer dst.Close()
	if err := requireCompatible(a, b, dst); err != nil {
		return err
	}

	op := history.NewOperation("add_multiple")
	op.AddParameter("hashdb_dir1", dirA)
	op.AddParameter("hashdb_dir2", dirB)
	op.AddParameter("hashdb_dir3", dirC)

	var c changes.ChangeRecord
	cp := newCopier(dst, &c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	itemsA, errA := stream(ctx, a)
	itemsB, errB := stream(ctx, b)

	itemA, okA := <-itemsA
	itemB, okB := <-itemsB
	for okA && okB {
		if bytes.Compare(itemA.hash, itemB.hash) <= 0 {
			if err := cp.copy(a, 1, itemA.hash, itemA.occ); err != nil {
				return err
			}
			itemA, okA = <-itemsA
		} else {
			if err := cp.copy(b, 2, itemB.hash, itemB.occ); err != nil {
				return err
			}
			itemB, okB = <-itemsB
		}
	}
	for okA {
		if err := cp.copy(a, 1, itemA.hash, itemA.occ); err != nil {
			return err
		}
		itemA, okA = <-itemsA
	}
	for okB {
		if err := cp.copy(b, 2, itemB.hash, itemB.occ); err != nil {
			return err
		}
		itemB, okB = <-itemsB
	}
	if err := <-errA; err != nil {
		return err
	}
	if err := <-errB; err != nil {
		return err
	}

	return finishOp(out, dst, op, &c, dirA, dirB)
}

// Intersect copies every hash present in both A and B into C, with
// the occurrences of both sides. The smaller input drives.
func Intersect(dirA, dirB, dirC string, logger *logrus.Logger, out io.Writer) error {
	if err := requireDifferent(dirA, dirB, dirC); err != nil {
		return err
	}
	a, err := Open(dirA, ReadOnly, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := Open(dirB, ReadOnly, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	dst, err := openOutput(dirC, a, logger)
	if err != nil {
		return err
	}
	defer dst.Close()
	if err := requireCompatible(a, b, dst); err != nil {
		return err
	}

	sizesA, err := a.Sizes()
	if err != nil {
		return err
	}
	sizesB, err := b.Sizes()
	if err != nil {
		return err
	}
	driver, other := a, b
	driverTag, otherTag := hashtypes.SourceID(1), hashtypes.SourceID(2)
	if sizesB.HashStore < sizesA.HashStore {
		driver, other = b, a
		driverTag, otherTag = 2, 1
	}

	op := history.NewOperation("intersect")
	op.AddParameter("hashdb_dir1", dirA)
	op.AddParameter("hashdb_dir2", dirB)
	op.AddParameter("hashdb_dir3", dirC)

	var c changes.ChangeRecord
	cp := newCopier(dst, &c)
	tracker := progress.New(logger, "intersect", sizesA.HashStore+sizesB.HashStore)
	err = driver.IterateKeys(context.Background(), func(hash []byte, count uint32) (bool, error) {
		tracker.Track()
		otherOccurrences, err := other.Find(hash)
		if err != nil {
			return false, err
		}
		if len(otherOccurrences) == 0 {
			return true, nil
		}
		driverOccurrences, err := driver.Find(hash)
		if err != nil {
			return false, err
		}
		for _, occ := range driverOccurrences {
			if err := cp.copy(driver, driverTag, hash, occ); err != nil {
				return false, err
			}
		}
		for _, occ := range otherOccurrences {
			if err := cp.copy(other, otherTag, hash, occ); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	tracker.Done()

	return finishOp(out, dst, op, &c, dirA, dirB)
}

// Subtract copies A's occurrences into C for every hash B does not
// have. A hash B has at all is dropped whole.
func Subtract(dirA, dirB, dirC string, logger *logrus.Logger, out io.Writer) error {
	if err := requireDifferent(dirA, dirB, dirC); err != nil {
		return err
	}
	a, err := Open(dirA, ReadOnly, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := Open(dirB, ReadOnly, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	dst, err := openOutput(dirC, a, logger)
	if err != nil {
		return err
	}
	defer dst.Close()
	if err := requireCompatible(a, b, dst); err != nil {
		return err
	}

	op := history.NewOperation("subtract")
	op.AddParameter("hashdb_dir1", dirA)
	op.AddParameter("hashdb_dir2", dirB)
	op.AddParameter("hashdb_dir3", dirC)

	var c changes.ChangeRecord
	cp := newCopier(dst, &c)
	sizes, err := a.Sizes()
	if err != nil {
		return err
	}
	tracker := progress.New(logger, "subtract", sizes.HashStore)
	err = a.IterateKeys(context.Background(), func(hash []byte, count uint32) (bool, error) {
		tracker.Track()
		inB, err := b.FindCount(hash)
		if err != nil {
			return false, err
		}
		if inB > 0 {
			return true, nil
		}
		occurrences, err := a.Find(hash)
		if err != nil {
			return false, err
		}
		for _, occ := range occurrences {
			if err := cp.copy(a, 1, hash, occ); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	tracker.Done()

	return finishOp(out, dst, op, &c, dirA, dirB)
}

// Deduplicate copies exactly the hashes whose occurrence count in A
// equals one into B.
func Deduplicate(dirA, dirB string, logger *logrus.Logger, out io.Writer) error {
	if err := requireDifferent(dirA, dirB); err != nil {
		return err
	}
	a, err := Open(dirA, ReadOnly, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	dst, err := openOutput(dirB, a, logger)
	if err != nil {
		return err
	}
	defer dst.Close()
	if err := requireCompatible(a, dst); err != nil {
		return err
	}

	op := history.NewOperation("deduplicate")
	op.AddParameter("hashdb_dir1", dirA)
	op.AddParameter("hashdb_dir2", dirB)

	var c changes.ChangeRecord
	cp := newCopier(dst, &c)
	sizes, err := a.Sizes()
	if err != nil {
		return err
	}
	tracker := progress.New(logger, "deduplicate", sizes.HashStore)
	err = a.IterateKeys(context.Background(), func(hash []byte, count uint32) (bool, error) {
		tracker.Track()
		if count != 1 {
			return true, nil
		}
		occurrences, err := a.Find(hash)
		if err != nil {
			return false, err
		}
		for _, occ := range occurrences {
			if err := cp.copy(a, 1, hash, occ); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	tracker.Done()

	return finishOp(out, dst, op, &c, dirA)
}

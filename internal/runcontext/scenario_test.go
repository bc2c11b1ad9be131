package runcontext

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"modelstore/internal/common"
	"modelstore/internal/dataset"
	"modelstore/internal/modeldb"
)

func TestScenarioSharedDatasetInSubcontext(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	root := newRoot(t)
	a, err := root.CreateSubcontext("A")
	g.Expect(err).NotTo(HaveOccurred())
	db := a.ModelDatabase()

	work := t.TempDir()
	d1 := writeFile(t, work, "d1.csv", pkData)
	d2 := writeFile(t, work, "d2.csv", pkData)

	g.Expect(db.Transaction(ctx, "m1", func(txn *modeldb.Transaction) error {
		_, err := txn.StoreModel(ctx, controlStream("m1", d1))
		return err
	})).To(Succeed())

	var m2Path string
	g.Expect(db.Transaction(ctx, "m2", func(txn *modeldb.Transaction) error {
		m, err := txn.StoreModel(ctx, controlStream("m2", d2))
		if err == nil {
			m2Path = m.Dataset.Path
		}
		return err
	})).To(Succeed())

	files, err := filepath.Glob(filepath.Join(db.Datasets().Root(), "*"+dataset.DataExt))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(files).To(HaveLen(1))

	g.Expect(db.Snapshot(ctx, "m1", func(snap *modeldb.Snapshot) error {
		m, err := snap.RetrieveModel()
		if err != nil {
			return err
		}
		g.Expect(m.Dataset.Path).To(Equal(m2Path))
		g.Expect(m.Dataset.Path).To(Equal(files[0]))
		return nil
	})).To(Succeed())
}

func TestScenarioBeginTwice(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	db := newRoot(t).ModelDatabase()

	txn, err := db.BeginTransaction(ctx, "m1")
	g.Expect(err).NotTo(HaveOccurred())
	defer txn.Close()

	_, err = db.BeginTransaction(ctx, "m1")
	g.Expect(err).To(MatchError(common.ErrPendingTransaction))
}

func TestScenarioResolveMissing(t *testing.T) {
	g := NewWithT(t)
	_, err := newRoot(t).ResolveName("missing")
	g.Expect(err).To(MatchError(common.ErrNotFound))
}

func TestLogVisibilityByScope(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	root := newRoot(t)
	a, err := root.CreateSubcontext("A")
	g.Expect(err).NotTo(HaveOccurred())
	b, err := root.CreateSubcontext("B")
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(root.LogInfo(ctx, "starting")).To(Succeed())
	g.Expect(a.AppendLog(ctx, SeverityError, `estimation failed: "rounding errors", see lst`)).To(Succeed())
	g.Expect(b.LogWarning(ctx, "boundary")).To(Succeed())

	messages := func(c *Context, scope Scope) []string {
		rows, err := c.ReadLog(ctx, scope)
		g.Expect(err).NotTo(HaveOccurred())
		var out []string
		for _, r := range rows {
			out = append(out, r.Message)
		}
		return out
	}

	g.Expect(messages(root, ScopeEverything)).To(Equal([]string{
		"starting", `estimation failed: "rounding errors", see lst`, "boundary",
	}))
	g.Expect(messages(root, ScopeThis)).To(Equal([]string{"starting"}))
	g.Expect(messages(root, ScopeThisAndDescendants)).To(HaveLen(3))

	g.Expect(messages(a, ScopeThis)).To(Equal([]string{`estimation failed: "rounding errors", see lst`}))
	g.Expect(messages(a, ScopeThisAndDescendants)).To(HaveLen(1))
	g.Expect(messages(a, ScopeEverything)).To(HaveLen(3))

	// Rows from a sibling at the same depth, or below it, stay out of
	// this context's scopes.
	bc, err := b.CreateSubcontext("C")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(bc.LogInfo(ctx, "nested under B")).To(Succeed())
	g.Expect(messages(a, ScopeThis)).NotTo(ContainElement("boundary"))
	g.Expect(messages(a, ScopeThisAndDescendants)).NotTo(ContainElement("nested under B"))
	g.Expect(messages(b, ScopeThisAndDescendants)).To(Equal([]string{"boundary", "nested under B"}))
	g.Expect(messages(root, ScopeEverything)).To(HaveLen(4))

	rows, err := root.ReadLog(ctx, ScopeEverything)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(rows[1].Path).To(Equal("R/A"))
	g.Expect(rows[1].Severity).To(Equal(SeverityError))
	g.Expect(rows[1].Time.Location()).To(Equal(time.UTC))
	g.Expect(rows[1].Time).To(BeTemporally("~", time.Now(), time.Minute))
}

func TestConcurrentLogAppends(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()
	root := newRoot(t)

	const workers, each = 4, 25
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		sub, err := root.CreateSubcontext("w" + strconv.Itoa(w))
		g.Expect(err).NotTo(HaveOccurred())
		eg.Go(func() error {
			for i := 0; i < each; i++ {
				if err := sub.LogInfo(ctx, "step "+strconv.Itoa(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	g.Expect(eg.Wait()).To(Succeed())

	g.Eventually(func() ([]LogEntry, error) {
		return root.ReadLog(ctx, ScopeEverything)
	}).Should(HaveLen(workers * each))
}

func TestNameLinkRoundTripProperty(t *testing.T) {
	root := newRoot(t)
	db := root.ModelDatabase()
	ctx := context.Background()

	keys := []modeldb.Key{"k1", "k2", "k3"}
	for _, k := range keys {
		if err := db.Transaction(ctx, k, func(*modeldb.Transaction) error { return nil }); err != nil {
			t.Fatal(err)
		}
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("link, relink, resolve", prop.ForAll(
		func(n, i, j int) bool {
			name := "n" + strconv.Itoa(n)
			first, second := keys[i], keys[j]
			if root.StoreNameLink(name, first) != nil {
				return false
			}
			if k, err := root.ResolveName(name); err != nil || k != first {
				return false
			}
			if root.StoreNameLink(name, second) != nil {
				return false
			}
			k, err := root.ResolveName(name)
			if err != nil || k != second {
				return false
			}
			// The reverse lookup returns some name pointing at second.
			back, err := root.ResolveKeyToName(second)
			if err != nil {
				return false
			}
			k, err = root.ResolveName(back)
			return err == nil && k == second
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, len(keys)-1),
		gen.IntRange(0, len(keys)-1),
	))

	properties.TestingRun(t)
}

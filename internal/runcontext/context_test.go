package runcontext

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelstore/internal/common"
	"modelstore/internal/dataset"
	"modelstore/internal/metadata"
	"modelstore/internal/model"
	"modelstore/internal/modeldb"
	"modelstore/internal/results"
)

const pkData = "ID,TIME,DV\n1,0,0\n1,1,12.5\n2,0,0\n2,1,9.75\n"

func newRoot(t *testing.T, opts ...Option) *Context {
	t.Helper()
	c, err := New("R", t.TempDir(), opts...)
	require.NoError(t, err)
	return c
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func controlStream(name, dataPath string) *model.Model {
	return &model.Model{
		Name:    name,
		Format:  model.ControlStream{Ext: ".mod"},
		Source:  []byte("$PROBLEM " + name + "\n$INPUT ID TIME DV\n$DATA " + dataPath + " IGNORE=@\n"),
		Dataset: &dataset.Dataset{Path: dataPath},
	}
}

// storeModel commits a model under key and returns the key.
func storeModel(t *testing.T, c *Context, key, data string) modeldb.Key {
	t.Helper()
	ctx := context.Background()
	err := c.ModelDatabase().Transaction(ctx, modeldb.Key(key), func(txn *modeldb.Transaction) error {
		_, err := txn.StoreModel(ctx, controlStream(key, data))
		return err
	})
	require.NoError(t, err)
	return modeldb.Key(key)
}

func TestNewCreatesLayout(t *testing.T) {
	ref := t.TempDir()
	c, err := New("R", ref, WithCommonOptions(map[string]metadata.Value{
		"esttool": metadata.String("nonmem"),
	}))
	require.NoError(t, err)

	assert.True(t, Exists("R", ref))
	assert.False(t, Exists("other", ref))
	assert.True(t, c.IsTop())
	assert.Equal(t, "R", c.ContextPath())
	assert.DirExists(t, filepath.Join(c.Path(), SubcontextsDir))
	assert.DirExists(t, filepath.Join(c.Path(), ModelsDir))
	assert.DirExists(t, filepath.Join(c.Path(), DatabaseDir))
	assert.FileExists(t, filepath.Join(c.Path(), AnnotationsFile))

	data, err := os.ReadFile(filepath.Join(c.Path(), LogFile))
	require.NoError(t, err)
	assert.Equal(t, "path,time,severity,message\n", string(data))

	opts, err := c.RetrieveCommonOptions()
	require.NoError(t, err)
	tool, ok := opts.Get("esttool")
	require.True(t, ok)
	s, _ := tool.AsString()
	assert.Equal(t, "nonmem", s)

	// Reopening keeps existing content.
	require.NoError(t, c.AppendLog(context.Background(), SeverityInfo, "first"))
	again, err := New("R", ref, WithCommonOptions(map[string]metadata.Value{"esttool": metadata.String("other")}))
	require.NoError(t, err)
	rows, err := again.ReadLog(context.Background(), ScopeEverything)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	opts, err = again.RetrieveCommonOptions()
	require.NoError(t, err)
	tool, _ = opts.Get("esttool")
	s, _ = tool.AsString()
	assert.Equal(t, "nonmem", s)
}

func TestSubcontextTree(t *testing.T) {
	root := newRoot(t)

	a, err := root.CreateSubcontext("A")
	require.NoError(t, err)
	b, err := a.CreateSubcontext("B")
	require.NoError(t, err)
	assert.Equal(t, "R/A", a.ContextPath())
	assert.Equal(t, "R/A/B", b.ContextPath())
	assert.False(t, b.IsTop())
	assert.Equal(t, root.ModelDatabase(), b.ModelDatabase())
	assert.NoDirExists(t, filepath.Join(a.Path(), DatabaseDir))
	assert.NoFileExists(t, filepath.Join(a.Path(), LogFile))

	for _, name := range []string{"run10", "run2", "run1"} {
		_, err := root.CreateSubcontext(name)
		require.NoError(t, err)
	}
	subs, err := root.ListSubcontexts()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "run1", "run2", "run10"}, subs)

	got, err := root.GetSubcontext("A")
	require.NoError(t, err)
	assert.Equal(t, a.Path(), got.Path())
	_, err = root.GetSubcontext("missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = root.CreateSubcontext("../escape")
	assert.ErrorIs(t, err, common.ErrInvalidName)

	require.NoError(t, os.WriteFile(filepath.Join(root.Path(), SubcontextsDir, "stray"), []byte("not a context"), 0644))
	_, err = root.CreateSubcontext("stray")
	assert.ErrorIs(t, err, common.ErrExists)

	parent, err := b.Parent()
	require.NoError(t, err)
	assert.Equal(t, a.Path(), parent.Path())
	top, err := parent.Parent()
	require.NoError(t, err)
	assert.Equal(t, root.Path(), top.Path())
	_, err = top.Parent()
	assert.ErrorIs(t, err, common.ErrAtRoot)

	// Opening a subcontext directly finds the top context's database.
	direct, err := New("B", filepath.Join(a.Path(), SubcontextsDir))
	require.NoError(t, err)
	assert.Equal(t, "R/A/B", direct.ContextPath())
	assert.Equal(t, root.ModelDatabase().Root(), direct.ModelDatabase().Root())
}

func TestNameLinks(t *testing.T) {
	root := newRoot(t)
	data := writeFile(t, t.TempDir(), "pk.csv", pkData)
	k1 := storeModel(t, root, "run1", data)
	k2 := storeModel(t, root, "run2", data)

	require.NoError(t, root.StoreNameLink("final", k1))
	require.NoError(t, root.StoreNameLink("final", k1))
	key, err := root.ResolveName("final")
	require.NoError(t, err)
	assert.Equal(t, k1, key)

	target, err := os.Readlink(filepath.Join(root.Path(), ModelsDir, "final"))
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(target))

	require.NoError(t, root.StoreNameLink("final", k2))
	key, err = root.ResolveName("final")
	require.NoError(t, err)
	assert.Equal(t, k2, key)
	name, err := root.ResolveKeyToName(k2)
	require.NoError(t, err)
	assert.Equal(t, "final", name)
	_, err = root.ResolveKeyToName(k1)
	assert.ErrorIs(t, err, common.ErrNotFound)

	names, err := root.ListNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"final"}, names)

	assert.ErrorIs(t, root.StoreNameLink("x", "nosuchkey"), common.ErrNotFound)

	writeFile(t, filepath.Join(root.Path(), ModelsDir), "plain", "not a link")
	assert.ErrorIs(t, root.StoreNameLink("plain", k1), common.ErrConflict)
	_, err = root.ResolveName("plain")
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestNameLinkFromSubcontext(t *testing.T) {
	root := newRoot(t)
	a, err := root.CreateSubcontext("A")
	require.NoError(t, err)
	data := writeFile(t, t.TempDir(), "pk.csv", pkData)
	k := storeModel(t, a, "m1", data)

	require.NoError(t, a.StoreNameLink("best", k))
	m, err := a.RetrieveModel(context.Background(), "best")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.Name)

	_, err = root.ResolveName("best")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestAnnotations(t *testing.T) {
	root := newRoot(t)
	ctx := context.Background()

	_, err := root.GetAnnotation(ctx, "run1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, root.PutAnnotation(ctx, "run1", "base model"))
	require.NoError(t, root.PutAnnotation(ctx, "run2", "with covariates"))
	require.NoError(t, root.PutAnnotation(ctx, "run1", "base model, refit"))

	text, err := root.GetAnnotation(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, "base model, refit", text)

	data, err := os.ReadFile(filepath.Join(root.Path(), AnnotationsFile))
	require.NoError(t, err)
	assert.Equal(t, "run1 base model, refit\nrun2 with covariates\n", string(data))

	all, err := root.Annotations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Annotation{{"run1", "base model, refit"}, {"run2", "with covariates"}}, all)

	assert.ErrorIs(t, root.PutAnnotation(ctx, "run3", "two\nlines"), common.ErrInvalidName)
	assert.ErrorIs(t, root.PutAnnotation(ctx, "has space", "x"), common.ErrInvalidName)
}

func TestLongAnnotation(t *testing.T) {
	root := newRoot(t)
	ctx := context.Background()
	long := strings.Repeat("x", 70000)

	require.NoError(t, root.PutAnnotation(ctx, "m1", "short"))
	require.NoError(t, root.PutAnnotation(ctx, "m2", long))
	require.NoError(t, root.PutAnnotation(ctx, "m3", "after"))

	text, err := root.GetAnnotation(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, long, text)
	text, err = root.GetAnnotation(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, "after", text)

	all, err := root.Annotations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDocuments(t *testing.T) {
	root := newRoot(t)
	ctx := context.Background()

	_, err := root.RetrieveMetadata()
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = root.RetrieveResults()
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, root.StoreMetadata(metadata.Map(map[string]metadata.Value{
		"tool":  metadata.String("modelsearch"),
		"final": metadata.ModelRef("run3"),
	})))
	v, err := root.RetrieveMetadata()
	require.NoError(t, err)
	final, ok := v.Get("final")
	require.True(t, ok)
	assert.Equal(t, metadata.KindModelRef, final.Kind())

	ofv := 100.5
	require.NoError(t, root.StoreResults(&results.Results{ParameterEstimates: map[string]float64{"CL": 1}, OFV: &ofv}))
	r, err := root.RetrieveResults()
	require.NoError(t, err)
	assert.Equal(t, 100.5, *r.OFV)

	writeFile(t, root.Path(), MetadataFile, "{broken")
	_, err = root.RetrieveMetadata()
	assert.ErrorIs(t, err, common.ErrCorrupt)

	data := writeFile(t, t.TempDir(), "pk.csv", pkData)
	key, err := root.StoreModelEntry(ctx, &results.ModelEntry{
		Model:   controlStream("run4", data),
		Results: &results.Results{ParameterEstimates: map[string]float64{"V": 3}},
		Parent:  "run3",
	})
	require.NoError(t, err)
	assert.Equal(t, modeldb.Key("run4"), key)

	e, err := root.RetrieveModelEntry(ctx, "run4")
	require.NoError(t, err)
	assert.Equal(t, "run3", e.Parent)
	assert.Equal(t, 3.0, e.Results.ParameterEstimates["V"])
}

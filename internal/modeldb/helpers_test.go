package modeldb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"modelstore/internal/dataset"
	"modelstore/internal/model"
)

const pkData = "ID,TIME,DV,AMT\n1,0,0,100\n1,1,12.5,0\n2,0,0,100\n2,1,9.75,0\n"

func openStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".modeldb"), opts...)
	require.NoError(t, err)
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// controlStream builds a control-stream model reading dataPath.
func controlStream(name, dataPath string) *model.Model {
	src := "$PROBLEM " + name + "\n" +
		"$INPUT ID TIME DV AMT\n" +
		"$DATA " + dataPath + " IGNORE=@\n" +
		"$ESTIMATION METHOD=1 INTER\n"
	return &model.Model{
		Name:    name,
		Format:  model.ControlStream{Ext: ".mod"},
		Source:  []byte(src),
		Dataset: &dataset.Dataset{Path: dataPath},
	}
}

func countDatasets(t *testing.T, s *Store) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(s.Datasets().Root(), "*"+dataset.DataExt))
	require.NoError(t, err)
	return len(matches)
}

package artifact_test

import (
	"testing"

	"github.com/devsecflow/secpipe/pkg/artifact"
	"github.com/devsecflow/secpipe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndRead(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Save("bandit_report.html", []byte("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, "bandit_report.html", ref.Name)
	assert.Equal(t, models.ArtifactHTML, ref.Kind)
	assert.True(t, ref.Exists)

	data, err := store.Read("bandit_report.html")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))
}

func TestStore_Read_NotFound(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read("missing.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrArtifactNotFound)

	assert.Nil(t, store.ReadIfExists("missing.txt"))
}

func TestStore_Ref_ExistenceFlag(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	ref := store.Ref("zap_dast_report.html")
	assert.False(t, ref.Exists)

	_, err = store.Save("zap_dast_report.html", []byte("<html></html>"))
	require.NoError(t, err)

	ref = store.Ref("zap_dast_report.html")
	assert.True(t, ref.Exists)
}

func TestStore_Glob(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{
		"test_result_report_v1.html",
		"test_result_report_v1.pdf",
		"dependency_vuln.txt",
		"version.txt",
	} {
		_, err = store.Save(name, []byte("x"))
		require.NoError(t, err)
	}

	refs, err := store.Glob("test_result_report_v*.html", "test_result_report_v*.pdf", "*.txt")
	require.NoError(t, err)

	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}

	assert.Equal(t, []string{
		"dependency_vuln.txt",
		"test_result_report_v1.html",
		"test_result_report_v1.pdf",
		"version.txt",
	}, names)
}

func TestStore_Glob_Deduplicates(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("version.txt", []byte("3"))
	require.NoError(t, err)

	refs, err := store.Glob("version.txt", "*.txt")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

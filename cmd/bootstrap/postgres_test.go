package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cards.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCards_NormalizesAndDedupes(t *testing.T) {
	path := writeCatalog(t, `
cards:
  - name: "Sol Ring"
    color_identity: ""
    type_line: Artifact
  - name: "Lim-Dûl's Vault"
    color_identity: ub
  - name: "sol ring"
    color_identity: ""
    type_line: "Artifact (reprint)"
`)

	cards, err := loadCards(path)
	require.NoError(t, err)
	require.Len(t, cards, 2)

	assert.Equal(t, "solring", cards[0].NormalizedName)
	assert.Equal(t, "sol ring", cards[0].Name)
	assert.Equal(t, "Artifact (reprint)", cards[0].TypeLine)

	assert.Equal(t, "lim-dulsvault", cards[1].NormalizedName)
	assert.Equal(t, "UB", cards[1].ColorIdentity)
}

func TestLoadCards_RejectsNamelessEntry(t *testing.T) {
	path := writeCatalog(t, "cards:\n  - color_identity: G\n")
	_, err := loadCards(path)
	assert.ErrorContains(t, err, "card #1 has no name")
}

func TestLoadCards_MissingFile(t *testing.T) {
	_, err := loadCards(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

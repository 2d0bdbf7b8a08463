package installer

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderConfigEscapesValues(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	salts, err := GenerateSalts()
	require.NoError(t, err)
	require.Len(t, salts, 8)

	var buf bytes.Buffer
	err = r.Render(&buf, ConfigFile, ConfigData{
		DBName:      "acme_wp1",
		DBUser:      "acme_u1",
		DBPass:      `it's\secret`,
		DBHost:      "localhost",
		TablePrefix: "wp_",
		Salts:       salts,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "define( 'DB_NAME', 'acme_wp1' );")
	assert.Contains(t, out, `define( 'DB_PASSWORD', 'it\'s\\secret' );`)
	assert.Contains(t, out, "$table_prefix = 'wp_';")
	for _, s := range salts {
		assert.Len(t, s.Value, 64)
		assert.NotContains(t, s.Value, "'")
		assert.NotContains(t, s.Value, `\`)
		assert.Contains(t, out, "define( '"+s.Name+"', '"+s.Value+"' );")
	}
}

func TestRenderInstallerEmbedsToken(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, InstallerFile, InstallerData{Token: "abc123"}))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<?php"))
	assert.Contains(t, out, "$token = 'abc123';")
	assert.Contains(t, out, "ai1wm restore")
	assert.Contains(t, out, DescriptorFile)

	assert.Error(t, r.Render(&buf, "nope.php", nil))
}

func TestWriteJobInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJobInfo(&buf, JobInfo{
		Domain:       "example.com",
		Email:        "owner@example.com",
		DBName:       "acme_wp1",
		Title:        SiteTitle("example.com"),
		TemplateKind: "custom",
		Archive:      "site.wpress",
		Plugins:      []string{"all-in-one-wp-migration.zip"},
		Replacements: []Replacement{{From: "info@placeholder.test", To: "owner@example.com"}},
		Token:        "tok",
	}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "example.com", got["domain"])
	assert.Equal(t, "acme_wp1", got["dbName"])
	assert.Equal(t, "Example", got["title"])
	assert.Equal(t, "site.wpress", got["archive"])
	assert.NotContains(t, got, "logo")
}

func TestSiteTitle(t *testing.T) {
	assert.Equal(t, "My Shop", SiteTitle("www.my-shop.co.uk"))
	assert.Equal(t, "Bakery", SiteTitle("bakery.com"))
}

func TestToken(t *testing.T) {
	a, err := Token()
	require.NoError(t, err)
	b, err := Token()
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

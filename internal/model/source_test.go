package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const classMapCSV = `index,mid,display_name
0,/m/09x0r,Speech
1,/m/0463cq4,"Crying, sobbing"
2,/m/03qc9zr,Screaming
`

func TestReadClassMap(t *testing.T) {
	names, err := ReadClassMap(strings.NewReader(classMapCSV))
	require.NoError(t, err)
	assert.Equal(t, []string{"Speech", "Crying, sobbing", "Screaming"}, names)
}

func TestReadClassMapErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{name: "empty", csv: ""},
		{name: "header only", csv: "index,mid,display_name\n"},
		{name: "no display_name", csv: "index,mid,name\n0,/m/1,Speech\n"},
		{name: "ragged rows", csv: "index,mid,display_name\n0,/m/1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadClassMap(strings.NewReader(tt.csv))
			assert.Error(t, err)
		})
	}
}

func TestFetchLocal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "yamnet.onnx")
	require.NoError(t, os.WriteFile(p, []byte("model"), 0o644))

	got, err := Fetch(context.Background(), p, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = Fetch(context.Background(), filepath.Join(dir, "missing.onnx"), t.TempDir())
	assert.Error(t, err)
}

func TestFetchRemoteIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/models/yamnet_class_map.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(classMapCSV))
	}))
	defer srv.Close()

	cache := t.TempDir()
	url := srv.URL + "/models/yamnet_class_map.csv"

	names, err := LoadClassMap(context.Background(), url, cache)
	require.NoError(t, err)
	assert.Len(t, names, 3)

	_, err = LoadClassMap(context.Background(), url, cache)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "-yamnet_class_map.csv"))

	_, err = Fetch(context.Background(), srv.URL+"/missing.onnx", cache)
	assert.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/yamnet.onnx"))
	assert.True(t, IsRemote("http://localhost:8000/m.onnx"))
	assert.False(t, IsRemote("models/yamnet.onnx"))
	assert.False(t, IsRemote("/abs/path/yamnet.onnx"))
	assert.False(t, IsRemote("file:///abs/yamnet.onnx"))
}

func TestDefaultClassMap(t *testing.T) {
	assert.Equal(t, filepath.Join("models", "yamnet_class_map.csv"), DefaultClassMap("models/yamnet.onnx"))
	assert.Equal(t, "https://example.com/yamnet/yamnet_class_map.csv",
		DefaultClassMap("https://example.com/yamnet/yamnet.onnx"))
}

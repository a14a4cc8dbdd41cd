package lakefs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kohakuhub/server/internal/shared/config"
	"github.com/kohakuhub/server/internal/shared/logger"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := New(&config.LakeFSConfig{
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
		Timeout:   5 * time.Second,
	}, logger.New(nil))
	return client, srv
}

func TestClient_CreateRepository(t *testing.T) {
	t.Run("sends_payload_and_auth", func(t *testing.T) {
		var got map[string]string
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v1/repositories", r.URL.Path)

			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "key", user)
			assert.Equal(t, "secret", pass)

			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusCreated)
		}))

		err := client.CreateRepository(context.Background(), "hf-model-alice-bert", "s3://hub/hf-model-alice-bert", "main")
		require.NoError(t, err)
		assert.Equal(t, "hf-model-alice-bert", got["name"])
		assert.Equal(t, "s3://hub/hf-model-alice-bert", got["storage_namespace"])
		assert.Equal(t, "main", got["default_branch"])
	})

	t.Run("conflict_maps_to_typed_error", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(apiError{Message: "repository already exists"})
		}))

		err := client.CreateRepository(context.Background(), "dup", "s3://hub/dup", "main")
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestClient_DeleteRepository_IdempotentOnMissing(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(apiError{Message: "repository not found"})
	}))

	err := client.DeleteRepository(context.Background(), "gone")
	assert.NoError(t, err)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    error
	}{
		{"not_found", http.StatusNotFound, "object not found", ErrNotFound},
		{"ref_not_found", http.StatusNotFound, "branch not found", ErrRefNotFound},
		{"conflict", http.StatusConflict, "merge conflict", ErrConflict},
		{"precondition", http.StatusPreconditionFailed, "checksum mismatch", ErrPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(apiError{Message: tt.message})
			}))

			_, err := client.GetBranch(context.Background(), "repo", "main")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(Ref{ID: "main", CommitID: "abc123"})
	}))

	ref, err := client.GetBranch(context.Background(), "repo", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc123", ref.CommitID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(apiError{Message: "path not found"})
	}))

	_, err := client.StatObject(context.Background(), "repo", "main", "config.json")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_LinkPhysicalAddress(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/repositories/repo/branches/main/staging/backing", r.URL.Path)
		assert.Equal(t, "weights/model.safetensors", r.URL.Query().Get("path"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	err := client.LinkPhysicalAddress(context.Background(), "repo", "main",
		"weights/model.safetensors", "s3://hub/lfs/ab/cd/abcd", "abcd", 1024)
	require.NoError(t, err)

	staging, ok := got["staging"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s3://hub/lfs/ab/cd/abcd", staging["physical_address"])
	assert.Equal(t, float64(1024), got["size_bytes"])
}

func TestClient_Commit(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/repositories/repo/branches/main/commits", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "add weights", body["message"])

		_ = json.NewEncoder(w).Encode(CommitRecord{
			ID:           "deadbeef",
			Message:      "add weights",
			CreationDate: 1700000000,
		})
	}))

	commit, err := client.Commit(context.Background(), "repo", "main", "add weights", map[string]string{"author": "alice"})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", commit.ID)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), commit.When())
}

func TestClient_ListAllObjects_Paginates(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "", r.URL.Query().Get("delimiter"))

		switch r.URL.Query().Get("after") {
		case "":
			_ = json.NewEncoder(w).Encode(objectList{
				Results:    []ObjectStats{{Path: "a.txt"}, {Path: "b.txt"}},
				Pagination: Pagination{HasMore: true, NextOffset: "b.txt"},
			})
		case "b.txt":
			_ = json.NewEncoder(w).Encode(objectList{
				Results: []ObjectStats{{Path: "c.txt"}},
			})
		default:
			t.Fatalf("unexpected after cursor %q", r.URL.Query().Get("after"))
		}
	}))

	objects, err := client.ListAllObjects(context.Background(), "repo", "main", "")
	require.NoError(t, err)
	require.Len(t, objects, 3)
	assert.Equal(t, "c.txt", objects[2].Path)
}

func TestObjectStats_IsCommonPrefix(t *testing.T) {
	assert.True(t, (&ObjectStats{PathType: "common_prefix"}).IsCommonPrefix())
	assert.False(t, (&ObjectStats{PathType: "object"}).IsCommonPrefix())
}

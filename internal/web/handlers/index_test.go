package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/database/mock"
	"github.com/kozaktomas/face-matcher/internal/facematch"
)

func TestIndex_Rebuild(t *testing.T) {
	tests := []struct {
		name           string
		strategy       database.Strategy
		rebuildErr     error
		expectedStatus int
		expectedCalls  int
	}{
		{"hnsw", database.StrategyHNSW, nil, http.StatusOK, 1},
		{"scan has no index", database.StrategyScan, nil, http.StatusConflict, 0},
		{"pgvector has no in-process index", database.StrategyPgvector, nil, http.StatusConflict, 0},
		{"rebuild fails", database.StrategyHNSW, facematch.NewStoreError("load embeddings", errors.New("down")), http.StatusServiceUnavailable, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := mock.NewMockStore()
			store.StrategyValue = tc.strategy
			store.RebuildError = tc.rebuildErr
			seedIdentity(store, "alice", "Alice", 1, 0, 0)
			changes := 0
			handler := NewIndexHandler(store, func() { changes++ })
			recorder := httptest.NewRecorder()

			handler.Rebuild(recorder, httptest.NewRequest("POST", "/api/v1/index/rebuild", nil))

			assertStatusCode(t, recorder, tc.expectedStatus)
			if store.RebuildCalls != tc.expectedCalls {
				t.Errorf("expected %d rebuild calls, got %d", tc.expectedCalls, store.RebuildCalls)
			}
			if tc.expectedStatus != http.StatusOK {
				return
			}
			var resp RebuildResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.IndexSize != 1 || changes != 1 {
				t.Errorf("expected index size 1 and one change notification, got %+v and %d", resp, changes)
			}
		})
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/commentgame/comment-mirror/indexer/db"
	"github.com/commentgame/comment-mirror/indexer/ledger"
	"github.com/commentgame/comment-mirror/indexer/mirror"
	"github.com/commentgame/comment-mirror/indexer/store"
)

const (
	testGame = "0x00000000000000000000000000000000000000aa"
	testUser = "0x00000000000000000000000000000000000000b1"
	testTx   = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

func setupTestServer(t *testing.T) (http.Handler, *gorm.DB) {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	logger := zerolog.New(zerolog.NewTestWriter(t))
	server := NewServer(
		logger,
		0,
		mirror.NewStore(database.Client(), logger),
		ledger.NewStore(database.Client(), logger),
	)
	return server.Handler(), database.Client()
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandleHealth(t *testing.T) {
	server := &Server{
		logger: zerolog.New(zerolog.NewTestWriter(t)),
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestGamesEndpoints(t *testing.T) {
	h, gdb := setupTestServer(t)

	require.NoError(t, gdb.Create(&store.Game{
		GameAddress: testGame,
		GameID:      "7",
		PrizePool:   "1000",
		EndTime:     time.Unix(1_700_000_000, 0).UTC(),
	}).Error)
	require.NoError(t, gdb.Create(&store.Comment{
		GameAddress: testGame,
		Commentor:   testUser,
		Message:     "first",
		CreatedAt:   time.Unix(1_700_000_100, 0).UTC(),
	}).Error)

	t.Run("list games", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/games", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var games []store.Game
		decodeData(t, w, &games)
		require.Len(t, games, 1)
		assert.Equal(t, "7", games[0].GameID)
		assert.Equal(t, "1000", games[0].PrizePool)
	})

	t.Run("get game accepts mixed case address", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/games/0x00000000000000000000000000000000000000AA", "")
		require.Equal(t, http.StatusOK, w.Code)

		var game store.Game
		decodeData(t, w, &game)
		assert.Equal(t, testGame, game.GameAddress)
	})

	t.Run("unknown game", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/games/"+testUser, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "game not found", decodeError(t, w))
	})

	t.Run("invalid address", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/games/0x1234", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list comments", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/games/"+testGame+"/comments?limit=5", "")
		require.Equal(t, http.StatusOK, w.Code)

		var comments []store.Comment
		decodeData(t, w, &comments)
		require.Len(t, comments, 1)
		assert.Equal(t, "first", comments[0].Message)
	})

	t.Run("empty comment list is an array", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/api/v1/games/"+testUser+"/comments", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":[]}`, w.Body.String())
	})

	t.Run("bad pagination", func(t *testing.T) {
		for _, q := range []string{"limit=0", "limit=abc", "offset=-1"} {
			w := doRequest(h, http.MethodGet, "/api/v1/games?"+q, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})
}

func TestToggleLikeEndpoint(t *testing.T) {
	h, gdb := setupTestServer(t)

	comment := store.Comment{GameAddress: testGame, Commentor: testUser, Message: "gm"}
	require.NoError(t, gdb.Create(&comment).Error)
	path := fmt.Sprintf("/api/v1/comments/%d/like", comment.ID)
	body := `{"userAddress":"` + testUser + `"}`

	w := doRequest(h, http.MethodPost, path, body)
	require.Equal(t, http.StatusOK, w.Code)
	var res mirror.LikeResult
	decodeData(t, w, &res)
	assert.Equal(t, mirror.LikeResult{Liked: true, LikeCount: 1}, res)

	w = doRequest(h, http.MethodPost, path, body)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &res)
	assert.Equal(t, mirror.LikeResult{Liked: false, LikeCount: 0}, res)

	t.Run("unknown comment", func(t *testing.T) {
		w := doRequest(h, http.MethodPost, "/api/v1/comments/999/like", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid user", func(t *testing.T) {
		w := doRequest(h, http.MethodPost, path, `{"userAddress":"bob"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		w := doRequest(h, http.MethodPost, path, `{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid request body", decodeError(t, w))
	})

	t.Run("non numeric id does not route", func(t *testing.T) {
		w := doRequest(h, http.MethodPost, "/api/v1/comments/abc/like", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTransactionEndpoints(t *testing.T) {
	h, _ := setupTestServer(t)
	body := fmt.Sprintf(`{"txHash":%q,"gameAddress":%q,"eventType":"COMMENT_ADDED"}`, testTx, testGame)

	w := doRequest(h, http.MethodPost, "/api/v1/transactions", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var reg RegisterTransactionResponse
	decodeData(t, w, &reg)
	assert.Equal(t, RegisterTransactionResponse{TxHash: testTx, Created: true}, reg)

	w = doRequest(h, http.MethodPost, "/api/v1/transactions", body)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &reg)
	assert.False(t, reg.Created)

	w = doRequest(h, http.MethodGet, "/api/v1/transactions/"+testTx, "")
	require.Equal(t, http.StatusOK, w.Code)
	var entry store.PendingTransaction
	decodeData(t, w, &entry)
	assert.Equal(t, store.StatusPending, entry.Status)
	assert.Equal(t, store.EventTypeCommentAdded, entry.EventType)

	w = doRequest(h, http.MethodGet, "/api/v1/transactions/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var counts map[string]int64
	decodeData(t, w, &counts)
	assert.Equal(t, int64(1), counts[store.StatusPending])
	assert.Equal(t, int64(0), counts[store.StatusConfirmed])

	testCases := []struct {
		name string
		body string
	}{
		{"bad hash", fmt.Sprintf(`{"txHash":"0x12","gameAddress":%q,"eventType":"COMMENT_ADDED"}`, testGame)},
		{"bad address", fmt.Sprintf(`{"txHash":%q,"gameAddress":"0x12","eventType":"COMMENT_ADDED"}`, testTx)},
		{"bad event type", fmt.Sprintf(`{"txHash":%q,"gameAddress":%q,"eventType":"LIKED"}`, testTx, testGame)},
		{"bad json", `not json`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(h, http.MethodPost, "/api/v1/transactions", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	t.Run("unknown transaction", func(t *testing.T) {
		other := "0x" + strings.Repeat("2", 64)
		w := doRequest(h, http.MethodGet, "/api/v1/transactions/"+other, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

type mockMirrorStore struct {
	mock.Mock
}

func (m *mockMirrorStore) ListGames(ctx context.Context, limit, offset int) ([]store.Game, error) {
	args := m.Called(ctx, limit, offset)
	games, _ := args.Get(0).([]store.Game)
	return games, args.Error(1)
}

func (m *mockMirrorStore) GetGame(ctx context.Context, address string) (*store.Game, error) {
	args := m.Called(ctx, address)
	game, _ := args.Get(0).(*store.Game)
	return game, args.Error(1)
}

func (m *mockMirrorStore) ListComments(ctx context.Context, gameAddress string, limit, offset int) ([]store.Comment, error) {
	args := m.Called(ctx, gameAddress, limit, offset)
	comments, _ := args.Get(0).([]store.Comment)
	return comments, args.Error(1)
}

func (m *mockMirrorStore) ToggleLike(ctx context.Context, commentID uint, userAddress string) (mirror.LikeResult, error) {
	args := m.Called(ctx, commentID, userAddress)
	return args.Get(0).(mirror.LikeResult), args.Error(1)
}

func TestPaginationAndStoreErrors(t *testing.T) {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	m := &mockMirrorStore{}
	server := NewServer(logger, 0, m, nil)

	m.On("ListGames", mock.Anything, maxPageLimit, 40).Return([]store.Game{}, nil).Once()
	w := doRequest(server.Handler(), http.MethodGet, "/api/v1/games?limit=500&offset=40", "")
	assert.Equal(t, http.StatusOK, w.Code)

	m.On("ListGames", mock.Anything, defaultPageLimit, 0).Return(nil, errors.New("disk I/O error")).Once()
	w = doRequest(server.Handler(), http.MethodGet, "/api/v1/games", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to list games", decodeError(t, w))

	m.AssertExpectations(t)
}

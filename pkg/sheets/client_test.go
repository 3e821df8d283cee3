package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewClient(Config{
		BaseURL:       server.URL,
		Token:         "test-token",
		SpreadsheetID: "sheet-1",
	}, logger)
}

func TestTabTitles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Contains(t, r.URL.Path, "/v4/spreadsheets/sheet-1")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"sheets": []map[string]any{
				{"properties": map[string]string{"title": "fr metropole "}},
				{"properties": map[string]string{"title": "Corse"}},
			},
		})
	})

	titles, err := client.TabTitles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fr metropole ", "Corse"}, titles)
}

func TestGetRange(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"values": [][]string{{"Durand", "Marie"}, {"Martin"}},
		})
	})

	values, err := client.GetRange(context.Background(), "Corse", "A4:Z3000")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "Durand", values[0][0])
}

func TestGetRangeRetriesWithTrimmedTab(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path, _ := url.PathUnescape(r.URL.Path)
		paths = append(paths, path)
		if len(paths) == 1 {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"values": [][]string{{"x"}}})
	})

	values, err := client.GetRange(context.Background(), "fr metropole ", "A4:Z10")
	require.NoError(t, err)
	require.Len(t, values, 1)

	require.Len(t, paths, 2)
	assert.Contains(t, paths[0], "'fr metropole '!A4:Z10")
	assert.Contains(t, paths[1], "'fr metropole'!A4:Z10")
}

func TestGetRangeDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.GetRange(context.Background(), "fr metropole ", "A4:Z10")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetCell(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"values": [][]string{{"150"}}})
	})

	value, err := client.GetCell(context.Background(), "Corse", "B1")
	require.NoError(t, err)
	assert.Equal(t, "150", value)
}

func TestGetCellEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})

	value, err := client.GetCell(context.Background(), "Corse", "B1")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestBatchUpdate(t *testing.T) {
	var received struct {
		ValueInputOption string       `json:"valueInputOption"`
		Data             []ValueRange `json:"data"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	})

	err := client.BatchUpdate(context.Background(), []ValueRange{
		{Range: RangeRef("Corse", "G7:G7"), Values: [][]string{{"✅ 6. Completed"}}},
		{Range: RangeRef("Corse", "N7:N7"), Values: [][]string{{"21/03/2026"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "USER_ENTERED", received.ValueInputOption)
	require.Len(t, received.Data, 2)
	assert.Equal(t, "'Corse'!G7:G7", received.Data[0].Range)
}

func TestBatchUpdateSkipsEmptyBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	assert.NoError(t, client.BatchUpdate(context.Background(), nil))
}

func TestAppend(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"updates": map[string]string{"updatedRange": "'Corse'!A57:Q57"},
		})
	})

	row, err := client.Append(context.Background(), "Corse", []string{"Durand", "Marie"})
	require.NoError(t, err)
	assert.Equal(t, 57, row)
}

func TestRowFromRange(t *testing.T) {
	tests := []struct {
		in       string
		expected int
		wantErr  bool
	}{
		{"'Corse'!A57:Q57", 57, false},
		{"A12", 12, false},
		{"'fr metropole '!B4:B4", 4, false},
		{"garbage", 0, true},
		{"", 0, true},
	}

	for _, test := range tests {
		row, err := rowFromRange(test.in)
		if test.wantErr {
			assert.Error(t, err, test.in)
		} else {
			require.NoError(t, err, test.in)
			assert.Equal(t, test.expected, row, test.in)
		}
	}
}

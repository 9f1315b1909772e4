package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestBackend(t *testing.T, mux *http.ServeMux) *HTTPBackend {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	b, err := NewHTTPBackend(HTTPConfig{BaseURL: srv.URL + "/api/", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewHTTPBackend() error = %v", err)
	}
	return b
}

func TestHTTPBackend_LoginSetsSessionCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "alice" {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "message": "User not found"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"user":    map[string]interface{}{"user_id": 7, "username": "alice", "balance": 10000},
		})
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "Not authenticated"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"user":    map[string]interface{}{"user_id": 7, "username": "alice"},
		})
	})

	b := newTestBackend(t, mux)
	ctx := context.Background()

	_, err := b.Me(ctx)
	var authErr *apperrors.AuthError
	if !errors.As(err, &authErr) || !errors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Fatalf("Me() before login error = %v, want AuthError wrapping ErrNotAuthenticated", err)
	}

	sess, err := b.Login(ctx, "alice")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sess.UserID != 7 || sess.Username != "alice" || sess.Balance != 10000 {
		t.Errorf("unexpected session %+v", sess)
	}

	sess, err = b.Me(ctx)
	if err != nil {
		t.Fatalf("Me() after login error = %v", err)
	}
	if sess.Username != "alice" {
		t.Errorf("Me() username = %q", sess.Username)
	}
}

func TestHTTPBackend_LoginRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "message": "User not found"})
	})

	b := newTestBackend(t, mux)
	_, err := b.Login(context.Background(), "nobody")

	var authErr *apperrors.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login() error = %v, want AuthError", err)
	}
	if authErr.Message != "User not found" {
		t.Errorf("Message = %q", authErr.Message)
	}
}

func TestHTTPBackend_RegisterOmitsEmptyEmail(t *testing.T) {
	var bodies []map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"user":    map[string]interface{}{"user_id": 1, "username": body["username"]},
		})
	})

	b := newTestBackend(t, mux)
	ctx := context.Background()
	if _, err := b.Register(ctx, "bob", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Register(ctx, "carol", "c@example.com"); err != nil {
		t.Fatal(err)
	}

	if _, ok := bodies[0]["email"]; ok {
		t.Errorf("empty email was sent: %v", bodies[0])
	}
	if bodies[1]["email"] != "c@example.com" {
		t.Errorf("email not sent: %v", bodies[1])
	}
}

func TestHTTPBackend_Portfolio(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/trading/portfolio", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"portfolio":{"balance":5000,"portfolio_value":1500,
			"total_value":6500,"total_gain_loss":50,"total_gain_loss_percent":3.44,
			"portfolio":[{"symbol":"AAPL","shares":10,"avg_price":145,"current_price":150,
			"market_value":1500,"gain_loss":50,"gain_loss_percent":3.44}]}}`))
	})

	b := newTestBackend(t, mux)
	p, err := b.Portfolio(context.Background())
	if err != nil {
		t.Fatalf("Portfolio() error = %v", err)
	}
	if p.Balance != 5000 || len(p.Holdings) != 1 {
		t.Fatalf("unexpected portfolio %+v", p)
	}
	h := p.Holdings[0]
	if h.Symbol != "AAPL" || h.Shares != 10 || h.AvgPrice != 145 || h.MarketValue != 1500 {
		t.Errorf("unexpected holding %+v", h)
	}
}

func TestHTTPBackend_TradeRejectedAndFailed(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/trading/buy", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["symbol"] != "AAPL" || body["shares"] != float64(3) {
			t.Errorf("unexpected trade body %v", body)
		}
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "Insufficient funds"})
	})
	mux.HandleFunc("/api/trading/sell", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "Sell order failed"})
	})

	b := newTestBackend(t, mux)
	ctx := context.Background()

	_, err := b.Trade(ctx, models.TradeBuy, "AAPL", 3)
	var rejErr *apperrors.RejectedError
	if !errors.As(err, &rejErr) || rejErr.Message != "Insufficient funds" {
		t.Fatalf("buy error = %v, want RejectedError", err)
	}

	_, err = b.Trade(ctx, models.TradeSell, "AAPL", 3)
	var reqErr *apperrors.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusInternalServerError {
		t.Fatalf("sell error = %v, want RequestError 500", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("buy calls = %d", calls)
	}
}

func TestHTTPBackend_QueryParameters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stocks/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"results": []map[string]interface{}{{"symbol": strings.ToUpper(q) + "L", "name": "Apple", "price": 150}},
		})
	})
	mux.HandleFunc("/api/trading/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "50" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transactions": []interface{}{}})
	})
	mux.HandleFunc("/api/ai/predict/MSFT", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("days") != "7" {
			t.Errorf("days = %q", r.URL.Query().Get("days"))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "prediction": map[string]interface{}{"symbol": "MSFT"}})
	})

	b := newTestBackend(t, mux)
	ctx := context.Background()

	results, err := b.SearchStocks(ctx, "aap")
	if err != nil || len(results) != 1 || results[0].Symbol != "AAPL" {
		t.Fatalf("SearchStocks() = %v, %v", results, err)
	}
	if _, err := b.Transactions(ctx, 50); err != nil {
		t.Fatalf("Transactions() error = %v", err)
	}
	pred, err := b.Predict(ctx, "MSFT", 7)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if !strings.Contains(string(pred), `"MSFT"`) {
		t.Errorf("prediction = %s", pred)
	}
}

func TestHTTPBackend_NonJSONResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stocks/info/AAPL", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	b := newTestBackend(t, mux)
	_, err := b.StockInfo(context.Background(), "AAPL")

	var reqErr *apperrors.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusBadGateway {
		t.Fatalf("StockInfo() error = %v, want RequestError 502", err)
	}
}

func TestHTTPBackend_TransportFailure(t *testing.T) {
	b, err := NewHTTPBackend(HTTPConfig{BaseURL: "http://127.0.0.1:1/api", Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.Watchlist(context.Background())

	var reqErr *apperrors.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != 0 {
		t.Fatalf("Watchlist() error = %v, want transport RequestError", err)
	}
}

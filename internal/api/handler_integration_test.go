package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/djlord-it/asyncq/internal/domain"
	"github.com/djlord-it/asyncq/internal/executor"
	"github.com/djlord-it/asyncq/internal/service"
	"github.com/djlord-it/asyncq/internal/store/memory"
	"github.com/djlord-it/asyncq/internal/supervisor"
	"github.com/djlord-it/asyncq/internal/sweeper"
)

func newLiveHandler(t *testing.T, work service.WorkFunc) *Handler {
	t.Helper()
	store := memory.New()
	exec := executor.New(executor.DefaultConfig(), store)
	svc := service.New(exec, supervisor.New(time.Minute, store), store, work)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return NewHandler(svc).WithSweeper(sweeper.New(sweeper.DefaultConfig(), store))
}

func pollStatus(t *testing.T, h http.Handler, id, principal string, want string) QueryResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := serve(h, http.MethodGet, "/queries/"+id, "", map[string]string{PrincipalHeader: principal})
		var resp QueryResponse
		if w.Code == http.StatusOK {
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Status == want {
				return resp
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("query %s never reached %s (last code %d, body %s)", id, want, w.Code, w.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_Live_SubmitPollComplete(t *testing.T) {
	h := newLiveHandler(t, func(job domain.Job) executor.Work {
		return func(ctx context.Context) (executor.Output, error) {
			return executor.Output{Body: []byte(`{"rows":[]}`)}, nil
		}
	})
	principal := map[string]string{PrincipalHeader: "alice"}

	w := serve(h, http.MethodPost, "/queries", `{"query":"SELECT 1","request_id":"once"}`, principal)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var ack QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	resp := pollStatus(t, h, ack.ID, "alice", "COMPLETE")
	if resp.Result == nil || resp.Result.ResponseBody != `{"rows":[]}` {
		t.Errorf("unexpected result: %+v", resp.Result)
	}

	// Other principals cannot see the query.
	w = serve(h, http.MethodGet, "/queries/"+ack.ID, "", map[string]string{PrincipalHeader: "bob"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for other principal, got %d", w.Code)
	}

	// Same request_id is rejected for the same principal.
	w = serve(h, http.MethodPost, "/queries", `{"query":"SELECT 1","request_id":"once"}`, principal)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate request_id, got %d", w.Code)
	}

	// Cancelling a finished query conflicts.
	w = serve(h, http.MethodPost, "/queries/"+ack.ID+"/cancel", "", principal)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling finished query, got %d", w.Code)
	}
}

func TestHandler_Live_CancelRunning(t *testing.T) {
	h := newLiveHandler(t, func(job domain.Job) executor.Work {
		return func(ctx context.Context) (executor.Output, error) {
			<-ctx.Done()
			return executor.Output{}, ctx.Err()
		}
	})

	w := serve(h, http.MethodPost, "/queries", `{"query":"SELECT pg_sleep(600)"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var ack QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	w = serve(h, http.MethodPost, "/queries/"+ack.ID+"/cancel", "", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	pollStatus(t, h, ack.ID, DefaultPrincipal, "CANCELLED")

	w = serve(h, http.MethodPost, "/admin/sweep", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected sweep 200, got %d: %s", w.Code, w.Body.String())
	}
}

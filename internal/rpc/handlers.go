package rpc

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/node"
	"trustchain/internal/runtime"
	"trustchain/internal/scheduler"
	"trustchain/internal/trustfund"
)

type handlers struct {
	b Backend
}

type errorResponse struct {
	Error string `json:"error"`
}

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func (h *handlers) submit(c *gin.Context) {
	var x runtime.Extrinsic
	if err := c.ShouldBindJSON(&x); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.b.Submit(x); err != nil {
		switch {
		case errors.Is(err, node.ErrMempoolFull):
			fail(c, http.StatusServiceUnavailable, err)
		case errors.Is(err, dispatch.ErrUnknownCall),
			errors.Is(err, chain.ErrBadOrigin),
			errors.Is(err, runtime.ErrNotSudo):
			fail(c, http.StatusBadRequest, err)
		default:
			fail(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": h.b.MempoolLen()})
}

func (h *handlers) head(c *gin.Context) {
	c.JSON(http.StatusOK, h.b.Head())
}

// entryView is the JSON shape of an agenda entry.
type entryView struct {
	ID       scheduler.TaskID  `json:"id"`
	Name     string            `json:"name,omitempty"`
	Call     string            `json:"call"`
	Owner    string            `json:"owner"`
	Priority uint8             `json:"priority"`
	Due      chain.BlockNumber `json:"due"`
	Seq      uint64            `json:"seq"`
	Interval uint64            `json:"interval,omitempty"`
	// Remaining is set for bounded periodic tasks.
	Remaining *uint32 `json:"remaining,omitempty"`
}

func viewEntry(e scheduler.Entry) entryView {
	v := entryView{
		ID:       e.ID,
		Name:     e.Name,
		Call:     e.Call.Method(),
		Owner:    e.Owner.String(),
		Priority: e.Priority,
		Due:      e.Due,
		Seq:      e.Seq,
		Interval: e.Periodic.Interval,
	}
	if e.Periodic.Bounded {
		r := e.Periodic.Remaining
		v.Remaining = &r
	}
	return v
}

func (h *handlers) agenda(c *gin.Context) {
	n, err := strconv.ParseUint(c.Param("block"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	entries, err := h.b.AgendaSlot(c.Request.Context(), chain.BlockNumber(n))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewEntry(e))
	}
	c.JSON(http.StatusOK, gin.H{"block": n, "entries": out})
}

func (h *handlers) task(c *gin.Context) {
	id, err := scheduler.ParseTaskID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	e, ok, err := h.b.Task(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, scheduler.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, viewEntry(e))
}

func (h *handlers) fund(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	f, err := h.b.Fund(c.Request.Context(), id)
	if errors.Is(err, trustfund.ErrFundNotFound) {
		fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"fund":   f,
		"state":  f.State.String(),
		"switch": f.Switch.String(),
	})
}

func (h *handlers) balance(c *gin.Context) {
	a := chain.AccountID(c.Param("account"))
	bal, ok, err := h.b.Balance(c.Request.Context(), a)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		fail(c, http.StatusNotFound, errors.New("account does not exist"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": a, "balance": bal})
}

func (h *handlers) events(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	events := h.b.Events(limit)
	if module := c.Query("module"); module != "" {
		kept := events[:0]
		for _, e := range events {
			if e.Module == module {
				kept = append(kept, e)
			}
		}
		events = kept
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "head": h.b.Head().Number, "mempool": h.b.MempoolLen()})
}

package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mertdlkr/x-rent/internal/ledger"
)

type openAccountRequest struct {
	ID            string `json:"id"`
	Token         string `json:"token"`
	InitialAmount int64  `json:"initial_amount"`
}

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.openAccount(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/balance") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/balance"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "account not found")
			return
		}
		a.getBalance(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getAccount(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "id is required")
		return
	}
	if len(id) > 64 {
		writeError(w, r, http.StatusBadRequest, "id must be <=64 characters")
		return
	}
	if req.InitialAmount < 0 {
		writeError(w, r, http.StatusBadRequest, "initial_amount must be >= 0")
		return
	}
	if req.InitialAmount > 0 && strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required when funding")
		return
	}

	acc, err := a.gateway.Open(r.Context(), id)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	if req.InitialAmount > 0 {
		acc, err = a.gateway.Deposit(r.Context(), id, ledger.Asset{
			Token:  strings.TrimSpace(req.Token),
			Amount: req.InitialAmount,
		})
		if err != nil {
			handleGatewayError(w, r, err)
			return
		}
	}

	a.audit(r.Context(), "gateway.account.open", map[string]any{
		"account":        acc.ID,
		"initial_amount": strconv.FormatInt(req.InitialAmount, 10),
	})

	w.Header().Set("Location", "/v1/accounts/"+acc.ID)
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	acc, err := a.gateway.GetAccount(r.Context(), id)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request, id string) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "token query parameter is required")
		return
	}
	asset, err := a.gateway.GetBalance(r.Context(), id, token)
	if err != nil {
		handleGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func handleGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidToken):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mertdlkr/x-rent/internal/auth"
	"github.com/mertdlkr/x-rent/internal/ledger"
	"github.com/mertdlkr/x-rent/internal/obs"
	"github.com/mertdlkr/x-rent/internal/rental"
)

type createListingRequest struct {
	Token          string `json:"token"`
	Amount         int64  `json:"amount"`
	RentalRate     int64  `json:"rental_rate"`
	MinDuration    uint64 `json:"min_duration"`
	MaxDuration    uint64 `json:"max_duration"`
	CollateralRate int64  `json:"collateral_rate"`
}

type rentRequest struct {
	DurationDays uint64 `json:"duration_days"`
}

type idResponse struct {
	ListingID uint64 `json:"listing_id,omitempty"`
	RentalID  uint64 `json:"rental_id,omitempty"`
}

type userIDsResponse struct {
	Items []uint64 `json:"items"`
}

func (a *API) handlePlatformInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	err := a.engine.InitializePlatform(r.Context(), caller)
	obs.ObserveRentalOp("platform_init", err)
	if err != nil {
		handleRentalError(w, r, err)
		return
	}

	a.audit(r.Context(), "rental.platform.init", map[string]any{
		"admin": caller,
	})
	cfg, err := a.engine.GetConfig(r.Context())
	if err != nil {
		handleRentalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	cfg, err := a.engine.GetConfig(r.Context())
	if err != nil {
		handleRentalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleListingsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createListing(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

// handleListingResource dispatches /v1/listings/{id}, /{id}/rent, /{id}/cancel.
func (a *API) handleListingResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/listings/")

	switch {
	case strings.HasSuffix(path, "/rent"):
		id, ok := parseID(w, r, strings.TrimSuffix(path, "/rent"))
		if !ok {
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.rentTokens(w, r, id)
	case strings.HasSuffix(path, "/cancel"):
		id, ok := parseID(w, r, strings.TrimSuffix(path, "/cancel"))
		if !ok {
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.cancelListing(w, r, id)
	default:
		id, ok := parseID(w, r, path)
		if !ok {
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getListing(w, r, id)
	}
}

// handleRentalResource dispatches /v1/rentals/{id}, /{id}/return,
// /{id}/emergency-return.
func (a *API) handleRentalResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/rentals/")

	switch {
	case strings.HasSuffix(path, "/return"):
		id, ok := parseID(w, r, strings.TrimSuffix(path, "/return"))
		if !ok {
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.returnTokens(w, r, id)
	case strings.HasSuffix(path, "/emergency-return"):
		id, ok := parseID(w, r, strings.TrimSuffix(path, "/emergency-return"))
		if !ok {
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.emergencyReturn(w, r, id)
	default:
		id, ok := parseID(w, r, path)
		if !ok {
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getRental(w, r, id)
	}
}

// handleUserResource dispatches /v1/users/{identity}/listings and /rentals.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")

	var identity, kind string
	switch {
	case strings.HasSuffix(path, "/listings"):
		identity, kind = strings.TrimSuffix(path, "/listings"), "listings"
	case strings.HasSuffix(path, "/rentals"):
		identity, kind = strings.TrimSuffix(path, "/rentals"), "rentals"
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	identity = strings.TrimSpace(identity)
	if identity == "" || strings.Contains(identity, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var (
		ids []uint64
		err error
	)
	if kind == "listings" {
		ids, err = a.engine.UserListings(r.Context(), identity)
	} else {
		ids, err = a.engine.UserRentals(r.Context(), identity)
	}
	if err != nil {
		handleRentalError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, userIDsResponse{Items: ids})
}

func (a *API) createListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createListingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	id, err := a.engine.CreateListing(r.Context(), caller, token,
		req.Amount, req.RentalRate, req.MinDuration, req.MaxDuration, req.CollateralRate)
	obs.ObserveRentalOp("create_listing", err)
	if err != nil {
		handleRentalError(w, r, err)
		return
	}

	a.audit(r.Context(), "rental.listing.create", map[string]any{
		"listing_id": id,
		"token":      token,
		"amount":     strconv.FormatInt(req.Amount, 10),
	})

	w.Header().Set("Location", "/v1/listings/"+strconv.FormatUint(id, 10))
	writeJSON(w, http.StatusCreated, idResponse{ListingID: id})
}

func (a *API) rentTokens(w http.ResponseWriter, r *http.Request, listingID uint64) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req rentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, err := a.engine.RentTokens(r.Context(), caller, listingID, req.DurationDays)
	obs.ObserveRentalOp("rent_tokens", err)
	if err != nil {
		handleRentalError(w, r, err)
		return
	}

	a.audit(r.Context(), "rental.rent", map[string]any{
		"listing_id":    listingID,
		"rental_id":     id,
		"duration_days": req.DurationDays,
	})

	w.Header().Set("Location", "/v1/rentals/"+strconv.FormatUint(id, 10))
	writeJSON(w, http.StatusCreated, idResponse{RentalID: id})
}

func (a *API) returnTokens(w http.ResponseWriter, r *http.Request, rentalID uint64) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	err := a.engine.ReturnTokens(r.Context(), caller, rentalID)
	obs.ObserveRentalOp("return_tokens", err)
	if err != nil {
		handleRentalError(w, r, err)
		return
	}

	a.audit(r.Context(), "rental.return", map[string]any{
		"rental_id": rentalID,
	})
	a.getRental(w, r, rentalID)
}

func (a *API) emergencyReturn(w http.ResponseWriter, r *http.Request, rentalID uint64) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	err := a.engine.EmergencyReturn(r.Context(), caller, rentalID)
	obs.ObserveRentalOp("emergency_return", err)
	if err != nil {
		handleRentalError(w, r, err)
		return
	}

	a.audit(r.Context(), "rental.emergency_return", map[string]any{
		"rental_id": rentalID,
	})
	a.getRental(w, r, rentalID)
}

func (a *API) cancelListing(w http.ResponseWriter, r *http.Request, listingID uint64) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	err := a.engine.CancelListing(r.Context(), caller, listingID)
	obs.ObserveRentalOp("cancel_listing", err)
	if err != nil {
		handleRentalError(w, r, err)
		return
	}

	a.audit(r.Context(), "rental.listing.cancel", map[string]any{
		"listing_id": listingID,
	})
	a.getListing(w, r, listingID)
}

func (a *API) getListing(w http.ResponseWriter, r *http.Request, id uint64) {
	listing, err := a.engine.GetListing(r.Context(), id)
	if err != nil {
		handleRentalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (a *API) getRental(w http.ResponseWriter, r *http.Request, id uint64) {
	agreement, err := a.engine.GetRental(r.Context(), id)
	if err != nil {
		handleRentalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

func parseID(w http.ResponseWriter, r *http.Request, raw string) (uint64, bool) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(w, r, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func handleRentalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rental.ErrInvalidAmount),
		errors.Is(err, rental.ErrInvalidDuration),
		errors.Is(err, rental.ErrInsufficientCollateral):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rental.ErrUnauthorizedAccess),
		errors.Is(err, rental.ErrUnauthorizedReturn):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, rental.ErrRentalNotFound), errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, rental.ErrNotInitialized),
		errors.Is(err, rental.ErrAlreadyInitialized),
		errors.Is(err, rental.ErrRentalActive),
		errors.Is(err, rental.ErrRentalExpired),
		errors.Is(err, rental.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

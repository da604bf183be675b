package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/slotwise/booking-engine/internal/availability"
	"github.com/slotwise/booking-engine/internal/booking"
	"github.com/slotwise/booking-engine/internal/slot"
)

func toRuleResponse(r availability.Rule) RuleResponse {
	return RuleResponse{
		ID:         r.ID,
		HostID:     r.HostID,
		RuleType:   string(r.RuleType),
		DaysOfWeek: r.DaysOfWeek,
		StartHour:  r.StartHour,
		EndHour:    r.EndHour,
		IsActive:   r.IsActive,
	}
}

func createRuleHandler(rules availability.RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		caller, _ := CallerID(r.Context())

		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}

		ruleType := availability.RuleType(req.RuleType)
		if ruleType != availability.RuleWeekly && ruleType != availability.RuleSpecificDate {
			writeError(w, http.StatusBadRequest, "invalid_rule_type", "rule_type must be WEEKLY or SPECIFIC_DATE")
			return
		}

		created, err := rules.Create(r.Context(), availability.Rule{
			HostID:     caller,
			RuleType:   ruleType,
			DaysOfWeek: req.DaysOfWeek,
			StartHour:  req.StartHour,
			EndHour:    req.EndHour,
			IsActive:   active,
		})
		if err != nil {
			handleRuleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toRuleResponse(*created))
	}
}

func listRulesHandler(rules availability.RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerID(r.Context())

		list, err := rules.ListByHost(r.Context(), caller)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]RuleResponse, 0, len(list))
		for _, rule := range list {
			resp = append(resp, toRuleResponse(rule))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deactivateRuleHandler(rules availability.RuleStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rule_id", "id must be a valid UUID")
			return
		}

		caller, _ := CallerID(r.Context())

		if err := rules.Deactivate(r.Context(), id, caller); err != nil {
			handleRuleError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func generateSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rule_id", "id must be a valid UUID")
			return
		}

		var req GenerateSlotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		fromDate, err := time.Parse("2006-01-02", req.FromDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from_date", "from_date must be YYYY-MM-DD")
			return
		}
		toDate, err := time.Parse("2006-01-02", req.ToDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to_date", "to_date must be YYYY-MM-DD")
			return
		}

		caller, _ := CallerID(r.Context())

		created, err := svc.GenerateSlots(r.Context(), caller, ruleID, fromDate, toDate, req.SlotDuration)
		if err != nil {
			handleGenerateError(w, err)
			return
		}

		msg := "slots generated successfully"
		if created == 0 {
			msg = "no new slots generated"
		}
		writeJSON(w, http.StatusOK, GenerateSlotsResponse{Created: created, Message: msg})
	}
}

func handleRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "rule_not_found", err.Error())
	case errors.Is(err, availability.ErrInvalidRule),
		errors.Is(err, availability.ErrInvalidDays):
		writeError(w, http.StatusBadRequest, "invalid_rule", err.Error())
	case errors.Is(err, availability.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleGenerateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "rule_not_found", err.Error())
	case errors.Is(err, booking.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", "you can only generate slots for your own rules")
	case errors.Is(err, availability.ErrRuleInactive):
		writeError(w, http.StatusConflict, "rule_inactive", err.Error())
	case errors.Is(err, availability.ErrInvalidRule),
		errors.Is(err, availability.ErrInvalidDays),
		errors.Is(err, availability.ErrInvalidRange),
		errors.Is(err, availability.ErrInvalidDuration):
		writeError(w, http.StatusBadRequest, "invalid_generation_request", err.Error())
	case errors.Is(err, slot.ErrStoreUnavailable),
		errors.Is(err, availability.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

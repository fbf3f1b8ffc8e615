package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"authgate/internal/account"
)

type challengeResponse struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Challenge issues a signing challenge for a wallet address.
func Challenge(svc *account.Service, defaultTenant uint, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddress string `json:"walletAddress"`
		}
		if !decode(w, r, &req) {
			return
		}
		issued, err := svc.Challenge(r.Context(), tenantOrDefault(r, defaultTenant), req.WalletAddress, meta(r))
		if err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusOK, challengeResponse{
			Nonce:     issued.Nonce,
			Message:   issued.Message,
			ExpiresAt: issued.ExpiresAt,
		})
	}
}

// WalletVerify consumes the pending challenge and authenticates the wallet.
func WalletVerify(svc *account.Service, defaultTenant uint, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddress string `json:"walletAddress"`
			Signature     string `json:"signature"`
			Nonce         string `json:"nonce"`
		}
		if !decode(w, r, &req) {
			return
		}
		res, err := svc.WalletVerify(r.Context(), tenantOrDefault(r, defaultTenant), req.WalletAddress, req.Signature, req.Nonce, meta(r))
		if err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusOK, newAuthResponse(res))
	}
}

// WalletAuth is the combined endpoint: a request without a signature gets a
// challenge, a request with one gets verified.
func WalletAuth(svc *account.Service, defaultTenant uint, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddress string `json:"walletAddress"`
			Signature     string `json:"signature"`
			Nonce         string `json:"nonce"`
		}
		if !decode(w, r, &req) {
			return
		}
		tenantID := tenantOrDefault(r, defaultTenant)
		if req.Signature == "" {
			issued, err := svc.Challenge(r.Context(), tenantID, req.WalletAddress, meta(r))
			if err != nil {
				respondServiceError(w, lg, err)
				return
			}
			RespondJSON(w, http.StatusOK, challengeResponse{
				Nonce:     issued.Nonce,
				Message:   issued.Message,
				ExpiresAt: issued.ExpiresAt,
			})
			return
		}
		res, err := svc.WalletVerify(r.Context(), tenantID, req.WalletAddress, req.Signature, req.Nonce, meta(r))
		if err != nil {
			respondServiceError(w, lg, err)
			return
		}
		RespondJSON(w, http.StatusOK, newAuthResponse(res))
	}
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clinicsync/core/cache"
	"clinicsync/core/config"
	"clinicsync/core/constants"
	"clinicsync/core/errors"
	"clinicsync/core/logger"
	"clinicsync/core/utils"
	connService "clinicsync/modules/connection/service"
	notifDto "clinicsync/modules/notification/dto"
	notifEntity "clinicsync/modules/notification/entity"
	"clinicsync/modules/oauth/dto"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Flow states. A flow instance lives across two HTTP round-trips: the
// transient grant in the cache is the AWAITING_CALLBACK marker, and its
// TTL bounds the callback wait.
const (
	StateIdle             = "IDLE"
	StateAuthorizing      = "AUTHORIZING"
	StateAwaitingCallback = "AWAITING_CALLBACK"
	StateComplete         = "COMPLETE"
	StateFailed           = "FAILED"
)

// FlowService drives the interactive authorization handshake
// (authorization code + PKCE) that produces the first token set.
type FlowService interface {
	BeginAuthorization(ctx context.Context, clinicianID uuid.UUID) (*dto.AuthorizationResponse, *errors.AppError)
	CompleteAuthorization(ctx context.Context, state, code, providerErr string) (*dto.CallbackResult, *errors.AppError)
}

// TokenExchanger swaps an authorization code + PKCE verifier for a
// token set.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
}

// UserInfoFetcher resolves the provider account email for a freshly
// granted token.
type UserInfoFetcher interface {
	FetchEmail(ctx context.Context, accessToken string) (string, error)
}

// EventPublisher delivers flow outcomes to the UI-facing notification
// module.
type EventPublisher interface {
	Publish(ctx context.Context, event notifDto.SyncEvent) error
}

type flowService struct {
	cache       cache.Cache
	connService connService.ConnectionService
	notifier    EventPublisher
	exchanger   TokenExchanger
	userInfo    UserInfoFetcher
}

func NewFlowService(c cache.Cache, connSvc connService.ConnectionService, notifier EventPublisher, exchanger TokenExchanger, userInfo UserInfoFetcher) FlowService {
	if exchanger == nil {
		exchanger = &oauthExchanger{}
	}
	if userInfo == nil {
		userInfo = &httpUserInfoFetcher{}
	}
	return &flowService{
		cache:       c,
		connService: connSvc,
		notifier:    notifier,
		exchanger:   exchanger,
		userInfo:    userInfo,
	}
}

// BeginAuthorization: IDLE -> AUTHORIZING -> AWAITING_CALLBACK.
func (s *flowService) BeginAuthorization(ctx context.Context, clinicianID uuid.UUID) (*dto.AuthorizationResponse, *errors.AppError) {
	cfg, ok := config.GetSafe()
	if !ok {
		return nil, errors.NewAppError(errors.ErrInternalServer, "config not initialized", nil)
	}
	if cfg.Provider.ClientID == "" || cfg.Provider.ClientSecret == "" || cfg.Provider.RedirectURI == "" {
		return nil, errors.NewAppError(errors.ErrInternalServer, "provider OAuth configuration is missing", nil)
	}

	state := utils.GenerateRandomString(constants.OAuthStateLength)
	verifier := utils.GeneratePKCEVerifier(constants.PKCEVerifierLength)
	challenge := utils.PKCEChallengeS256(verifier)

	grant := &cache.OAuthGrant{
		ClinicianID: clinicianID.String(),
		Provider:    cfg.Provider.Name,
		Verifier:    verifier,
		CreatedAt:   time.Now(),
	}
	if err := s.cache.SaveOAuthGrant(ctx, state, grant, constants.OAuthStateTTL); err != nil {
		logger.Error("FlowService:BeginAuthorization:SaveOAuthGrant:Error", "error", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to store authorization state", err)
	}

	oauthConfig := s.oauthConfig(cfg)
	authURL := oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	logger.Info("FlowService:BeginAuthorization:StateStored",
		"clinician_id", clinicianID, "expires_in", constants.OAuthStateTTL)

	return &dto.AuthorizationResponse{URL: authURL, State: state}, nil
}

// CompleteAuthorization: AWAITING_CALLBACK -> {COMPLETE | FAILED}.
// The grant is consumed before anything else so state tokens and
// authorization codes are strictly single-use.
func (s *flowService) CompleteAuthorization(ctx context.Context, state, code, providerErr string) (*dto.CallbackResult, *errors.AppError) {
	grant, err := s.cache.ConsumeOAuthGrant(ctx, state)
	if err != nil {
		logger.Error("FlowService:CompleteAuthorization:ConsumeOAuthGrant:Error", "error", err)
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to validate authorization state", err)
	}
	if grant == nil {
		// Possible CSRF, or the callback arrived after the grant
		// expired. Fatal either way: no token exchange is attempted
		// and no connection is written.
		logger.Warn("FlowService:CompleteAuthorization:StateMismatch", "state", state)
		return nil, errors.NewAppErrorWithHint(errors.ErrOAuthStateMismatch,
			"authorization state does not match any pending flow",
			"restart the calendar connection flow", nil)
	}

	clinicianID, parseErr := uuid.Parse(grant.ClinicianID)
	if parseErr != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "stored grant is corrupt", parseErr)
	}

	if providerErr != "" {
		appErr := categorizeProviderError(providerErr)
		s.notifyFailed(ctx, clinicianID, appErr)
		return nil, appErr
	}

	cfg, ok := config.GetSafe()
	if !ok {
		return nil, errors.NewAppError(errors.ErrInternalServer, "config not initialized", nil)
	}

	token, exchErr := s.exchanger.Exchange(ctx, code, grant.Verifier)
	if exchErr != nil {
		logger.Error("FlowService:CompleteAuthorization:Exchange:Error", "error", exchErr)
		appErr := errors.NewAppErrorWithHint(errors.ErrProviderUnavailable,
			"token exchange failed", "try connecting the calendar again", exchErr)
		s.notifyFailed(ctx, clinicianID, appErr)
		return nil, appErr
	}

	email, infoErr := s.userInfo.FetchEmail(ctx, token.AccessToken)
	if infoErr != nil {
		logger.Error("FlowService:CompleteAuthorization:FetchEmail:Error", "error", infoErr)
		appErr := errors.NewAppError(errors.ErrProviderUnavailable, "failed to resolve account email", infoErr)
		s.notifyFailed(ctx, clinicianID, appErr)
		return nil, appErr
	}

	conn, appErr := s.connService.SaveProviderConnection(ctx, clinicianID,
		cfg.Provider.Name, email, defaultTimeZone(), cfg.Provider.Scopes, token)
	if appErr != nil {
		s.notifyFailed(ctx, clinicianID, appErr)
		return nil, appErr
	}

	if s.notifier != nil {
		connID := conn.ID
		_ = s.notifier.Publish(ctx, notifDto.SyncEvent{
			Type:         notifEntity.TypeConnected,
			ClinicianID:  clinicianID,
			ConnectionID: &connID,
			Message:      fmt.Sprintf("Calendar account %s connected", email),
			Payload:      map[string]interface{}{"account_email": email},
		})
	}

	logger.Info("FlowService:CompleteAuthorization:Complete",
		"clinician_id", clinicianID, "connection_id", conn.ID, "account_email", email)

	return &dto.CallbackResult{
		ConnectionID: conn.ID.String(),
		AccountEmail: email,
		Provider:     conn.Provider,
	}, nil
}

func (s *flowService) notifyFailed(ctx context.Context, clinicianID uuid.UUID, appErr *errors.AppError) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Publish(ctx, notifDto.SyncEvent{
		Type:        notifEntity.TypeAuthError,
		ClinicianID: clinicianID,
		Message:     appErr.Message,
		Payload:     map[string]interface{}{"code": string(appErr.Code), "hint": appErr.Hint},
	})
}

func (s *flowService) oauthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		RedirectURL:  cfg.Provider.RedirectURI,
		Scopes:       cfg.Provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.Provider.AuthURL,
			TokenURL: cfg.Provider.TokenURL,
		},
	}
}

func categorizeProviderError(providerErr string) *errors.AppError {
	switch providerErr {
	case "access_denied":
		return errors.NewAppErrorWithHint(errors.ErrProviderRejected,
			"the user declined calendar access",
			"grant calendar access to enable sync", nil)
	default:
		return errors.NewAppErrorWithHint(errors.ErrProviderRejected,
			fmt.Sprintf("provider returned OAuth error: %s", providerErr),
			"try connecting the calendar again", nil)
	}
}

func defaultTimeZone() string {
	// The clinician's preferred zone lives with the practice profile;
	// until the profile service supplies it, UTC keeps every downstream
	// conversion valid.
	return "UTC"
}

// oauthExchanger is the production TokenExchanger.
type oauthExchanger struct{}

func (o *oauthExchanger) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	cfg, ok := config.GetSafe()
	if !ok {
		return nil, fmt.Errorf("config not initialized")
	}
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		RedirectURL:  cfg.Provider.RedirectURI,
		Scopes:       cfg.Provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.Provider.AuthURL,
			TokenURL: cfg.Provider.TokenURL,
		},
	}
	return oauthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
}

// httpUserInfoFetcher resolves the account email from the provider's
// userinfo endpoint.
type httpUserInfoFetcher struct{}

func (f *httpUserInfoFetcher) FetchEmail(ctx context.Context, accessToken string) (string, error) {
	cfg, ok := config.GetSafe()
	if !ok {
		return "", fmt.Errorf("config not initialized")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", cfg.Provider.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("userinfo endpoint error: %d: %s", resp.StatusCode, string(body))
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.Email == "" {
		return "", fmt.Errorf("userinfo response carried no email")
	}
	return info.Email, nil
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storefront/internal/ratelimit"
	"storefront/internal/util"
	"storefront/pkg/chat"
	"storefront/pkg/directory"
	"storefront/pkg/domain"
	"storefront/pkg/favorites"
	"storefront/pkg/identity"
	"storefront/pkg/orders"
	"storefront/pkg/products"
	"storefront/services/storefront/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App

	// Rate limiting is enabled only when RedisAddr is set.
	RedisAddr                string
	RedisPassword            string
	SigninRateLimitPerMinute int
	SignupRateLimitPerMinute int

	// Proxy ranges whose forwarded headers are trusted when resolving the
	// caller address for rate-limit keys.
	TrustedProxyCIDRs []string
}

// Server exposes the storefront HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	trustedProxies *util.TrustedProxies
	signinLimiter  *ratelimit.FixedWindowLimiter
	signupLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{app: cfg.App, mux: http.NewServeMux()}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s.trustedProxies = trusted
	if cfg.RedisAddr != "" {
		signinLimit := cfg.SigninRateLimitPerMinute
		if signinLimit <= 0 {
			signinLimit = 10
		}
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "storefront:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if s.signinLimiter, err = newLimiter("signin", signinLimit); err != nil {
			return nil, err
		}
		if s.signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("storefront",
		util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// sessions
	s.mux.HandleFunc("/api/auth/signin", s.handleSignIn)
	s.mux.HandleFunc("/api/auth/signup", s.handleSignUp)
	s.mux.Handle("/api/auth/signout", s.withUser(s.handleSignOut))
	s.mux.Handle("/api/users/me", s.withUser(s.handleMe))

	// catalog
	s.mux.HandleFunc("/api/products", s.handleProducts)
	s.mux.HandleFunc("/api/products/", s.handleProductByID)
	s.mux.HandleFunc("/api/categories", s.handleCategories)

	// seller listings
	s.mux.Handle("/api/seller/products", s.withUser(s.handleSellerProducts))
	s.mux.Handle("/api/seller/products/", s.withUser(s.handleSellerProductByID))
	s.mux.Handle("/api/seller/orders", s.withUser(s.handleSellerOrders))

	// cart
	s.mux.HandleFunc("/api/cart", s.handleCart)
	s.mux.HandleFunc("/api/cart/items", s.handleCartItems)
	s.mux.HandleFunc("/api/cart/items/", s.handleCartItemByID)

	// favorites
	s.mux.Handle("/api/favorites", s.withUser(s.handleFavorites))
	s.mux.Handle("/api/favorites/toggle", s.withUser(s.handleFavoriteToggle))

	// orders
	s.mux.Handle("/api/orders", s.withUser(s.handleOrders))

	// conversations
	s.mux.Handle("/api/chats", s.withUser(s.handleChats))
	s.mux.Handle("/api/chats/", s.withUser(s.handleChatByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type userHandler func(http.ResponseWriter, *http.Request, domain.Principal)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, ok := s.app.Identity.VerifyToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// session handlers
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signinLimiter, "too many sign-in attempts") {
		return
	}
	var req signInRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res := s.app.Identity.SignIn(r.Context(), req.Email, req.Password, domain.Role(req.Role))
	if res.Err != nil {
		writeSessionError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: s.activeToken(), User: res.User})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many sign-up attempts") {
		return
	}
	var req signUpRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res := s.app.Identity.SignUp(r.Context(), identity.NewUser{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
		Role:      domain.Role(req.Role),
	})
	if res.Err != nil {
		writeSessionError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: s.activeToken(), User: res.User})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	s.app.Identity.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateProfileRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		res := s.app.Identity.UpdateProfile(r.Context(), req.FirstName, req.LastName)
		if res.Err != nil {
			writeSessionError(w, res.Err)
			return
		}
		writeJSON(w, http.StatusOK, res.User)
	default:
		methodNotAllowed(w)
	}
}

// catalog handlers
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all, err := s.app.Products.All(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, "catalog unavailable")
			return
		}
		writeJSON(w, http.StatusOK, all)
	case http.MethodPost:
		// refresh
		if _, err := s.app.Catalog.ForceRefetch(r.Context()); err != nil {
			writeError(w, http.StatusBadGateway, "catalog unavailable")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProductByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/products/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "product id is required")
		return
	}
	all, err := s.app.Products.All(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	for _, p := range all {
		if p.ID == id {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeError(w, http.StatusNotFound, "product not found")
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	cats, err := s.app.Catalog.Categories(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// seller handlers
func (s *Server) handleSellerProducts(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	switch r.Method {
	case http.MethodGet:
		mine, err := s.app.Products.ForSeller(r.Context(), user.ID)
		if err != nil {
			writeError(w, http.StatusBadGateway, "catalog unavailable")
			return
		}
		writeJSON(w, http.StatusOK, mine)
	case http.MethodPost:
		var req domain.Product
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := s.app.Products.Create(r.Context(), user, req)
		if err != nil {
			writeProductError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSellerProductByID(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/seller/products/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "product id is required")
		return
	}
	switch {
	case sub == "image" && r.Method == http.MethodPost:
		url, err := s.app.Products.AttachImage(r.Context(), user, id, r.Body, r.ContentLength, r.Header.Get("Content-Type"))
		if err != nil {
			writeProductError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"imageUrl": url})
	case sub == "" && r.Method == http.MethodPatch:
		var req domain.Product
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.ID = id
		updated, err := s.app.Products.Update(r.Context(), user, req)
		if err != nil {
			writeProductError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case sub == "" && r.Method == http.MethodDelete:
		if err := s.app.Products.Delete(r.Context(), user, id); err != nil {
			writeProductError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSellerOrders(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if user.Role != domain.RoleSeller {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	list, err := s.app.Orders.ListBySeller(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "orders unavailable")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// cart handlers
func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cartResponse{
			Items:     s.app.Cart.Items(),
			Total:     s.app.Cart.Total(),
			ItemCount: s.app.Cart.ItemCount(),
		})
	case http.MethodDelete:
		s.app.Cart.ClearCart(r.Context())
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req addCartItemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	all, err := s.app.Products.All(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "catalog unavailable")
		return
	}
	for _, p := range all {
		if p.ID == req.ProductID {
			s.app.Cart.AddToCart(r.Context(), p, req.Quantity)
			writeJSON(w, http.StatusOK, cartResponse{
				Items:     s.app.Cart.Items(),
				Total:     s.app.Cart.Total(),
				ItemCount: s.app.Cart.ItemCount(),
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "product not found")
}

func (s *Server) handleCartItemByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/cart/items/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "product id is required")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req updateQuantityRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		s.app.Cart.UpdateQuantity(r.Context(), id, req.Quantity)
	case http.MethodDelete:
		s.app.Cart.RemoveFromCart(r.Context(), id)
	default:
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{
		Items:     s.app.Cart.Items(),
		Total:     s.app.Cart.Total(),
		ItemCount: s.app.Cart.ItemCount(),
	})
}

// favorites handlers
func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ids":   s.app.Favorites.IDs(),
		"count": s.app.Favorites.Count(),
	})
}

func (s *Server) handleFavoriteToggle(w http.ResponseWriter, r *http.Request, _ domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req toggleFavoriteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.Favorites.Toggle(r.Context(), domain.Product{ID: req.ProductID}); err != nil {
		if errors.Is(err, favorites.ErrBuyerOnly) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "favorites unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ids":   s.app.Favorites.IDs(),
		"count": s.app.Favorites.Count(),
	})
}

// order handlers
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.app.Orders.ListByBuyer(r.Context(), user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "orders unavailable")
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		// checkout places the current cart and clears it
		order, err := s.app.Orders.Place(r.Context(), user, s.app.Cart.Items())
		if err != nil {
			writeOrderError(w, err)
			return
		}
		s.app.Cart.ClearCart(r.Context())
		writeJSON(w, http.StatusCreated, order)
	default:
		methodNotAllowed(w)
	}
}

// conversation handlers
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.app.Chat.ConversationsForUser(r.Context(), user.ID))
	case http.MethodPost:
		var req openChatRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.WithUserID) == "" {
			writeError(w, http.StatusBadRequest, "withUserId is required")
			return
		}
		id := s.app.Chat.FindOrCreateConversation(user.ID, req.WithUserID)
		view, err := s.app.Chat.ConversationByID(r.Context(), id, user.ID)
		if err != nil {
			writeChatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, user domain.Principal) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		view, err := s.app.Chat.ConversationByID(r.Context(), id, user.ID)
		if err != nil {
			writeChatError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case sub == "messages" && r.Method == http.MethodPost:
		var req sendMessageRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.Chat.SendMessage(r.Context(), id, user.ID, req.Text)
		if err != nil {
			writeChatError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

// request/response types
type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type signUpRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
}

type sessionResponse struct {
	Token string           `json:"token"`
	User  domain.Principal `json:"user"`
}

type updateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type cartResponse struct {
	Items     []domain.CartItem `json:"items"`
	Total     float64           `json:"total"`
	ItemCount int               `json:"itemCount"`
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type toggleFavoriteRequest struct {
	ProductID string `json:"productId"`
}

type openChatRequest struct {
	WithUserID string `json:"withUserId"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

// helpers
func (s *Server) activeToken() string {
	return s.app.Identity.SessionToken()
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrEmailInUse) || errors.Is(err, directory.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		slog.Warn("session operation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeProductError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, products.ErrSellerOnly):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, products.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, products.ErrProductNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, products.ErrInvalidProduct), errors.Is(err, products.ErrNoImageStore):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "product operation failed")
	}
}

func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrBuyerOnly):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, orders.ErrEmptyOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "checkout failed")
	}
}

func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "conversation operation failed")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

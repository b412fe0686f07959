package api

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chatfront/chatfront/internal/identity"
	"github.com/chatfront/chatfront/internal/llm"
	"github.com/chatfront/chatfront/internal/models"
	"github.com/chatfront/chatfront/internal/store"
)

const (
	sessionCookie = "session"
	modelCookie   = "selected_model"
	flashCookie   = "flash"

	maxUploadBytes = 5 << 20
)

type Handler struct {
	store    *store.Store
	llm      *llm.Service
	identity *identity.Store
	logger   *zap.Logger

	loginTmpl *template.Template
	chatTmpl  *template.Template

	submitRate  rate.Limit
	submitBurst int
	limMu       sync.Mutex
	limiters    map[string]*rate.Limiter
}

func NewHandler(st *store.Store, llmService *llm.Service, ident *identity.Store, logger *zap.Logger, submitRate float64, submitBurst int) *Handler {
	return &Handler{
		store:       st,
		llm:         llmService,
		identity:    ident,
		logger:      logger,
		loginTmpl:   template.Must(template.New("login").Parse(loginHTML)),
		chatTmpl:    template.Must(template.New("chat").Parse(chatHTML)),
		submitRate:  rate.Limit(submitRate),
		submitBurst: submitBurst,
		limiters:    map[string]*rate.Limiter{},
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", h.loginPage)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("GET /logout", h.logout)

	mux.HandleFunc("GET /{$}", h.withUser(h.home))
	mux.HandleFunc("GET /new", h.withUser(h.newChat))
	mux.HandleFunc("GET /chat/{id}", h.withUser(h.viewChat))
	mux.HandleFunc("POST /chat/{id}", h.withUser(h.submitTurn))
	mux.HandleFunc("POST /select_model", h.withUser(h.selectModel))
	mux.HandleFunc("POST /rename/{id}", h.withUser(h.renameChat))
	mux.HandleFunc("POST /duplicate/{id}", h.withUser(h.duplicateChat))
	mux.HandleFunc("POST /delete/{id}", h.withUser(h.deleteChat))

	return mux
}

// withUser resolves the browser session to a username and redirects to the
// login page when there is none.
func (h *Handler) withUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value == "" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		user, err := h.identity.Lookup(c.Value)
		if err != nil {
			if !errors.Is(err, identity.ErrUnknownSession) {
				h.logger.Error("session lookup failed", zap.Error(err))
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r, user)
	}
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, "")
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	if username == "" {
		h.renderLogin(w, "Username cannot be empty.")
		return
	}
	token, err := h.identity.Establish(username)
	if err != nil {
		h.logger.Error("failed to establish session", zap.Error(err), zap.String("user", username))
		h.renderLogin(w, "Could not log in, try again.")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: token, Path: "/", HttpOnly: true})
	// A fresh login starts with no model bound.
	http.SetCookie(w, &http.Cookie{Name: modelCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := h.identity.Clear(c.Value); err != nil {
			h.logger.Error("failed to clear session", zap.Error(err))
		}
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: modelCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request, user string) {
	chats, err := h.store.List(user)
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err), zap.String("user", user))
	}
	if len(chats) > 0 {
		http.Redirect(w, r, "/chat/"+chats[0].ID, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/new", http.StatusSeeOther)
}

func (h *Handler) newChat(w http.ResponseWriter, r *http.Request, user string) {
	rec, err := h.store.Create(user)
	if err != nil {
		h.logger.Error("failed to create chat", zap.Error(err), zap.String("user", user))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/chat/"+rec.ID, http.StatusSeeOther)
}

func (h *Handler) viewChat(w http.ResponseWriter, r *http.Request, user string) {
	id := r.PathValue("id")
	rec, err := h.store.Load(user, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Redirect(w, r, "/new", http.StatusSeeOther)
			return
		}
		h.logger.Error("failed to load chat", zap.Error(err), zap.String("id", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	online := h.llm.OnlineModels(r.Context())
	selected := h.resolveModel(w, r, online)

	chats, err := h.store.List(user)
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err), zap.String("user", user))
	}

	level, msg := h.popFlash(w, r)
	data := chatPage{
		Username:   user,
		Chat:       rec,
		Chats:      chats,
		Models:     online,
		Selected:   selected,
		FlashLevel: level,
		FlashMsg:   msg,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.chatTmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render chat page", zap.Error(err))
	}
}

func (h *Handler) submitTurn(w http.ResponseWriter, r *http.Request, user string) {
	id := r.PathValue("id")

	if !h.limiter(user).Allow() {
		h.setFlash(w, "error", "Too many submissions, slow down.")
		http.Redirect(w, r, "/chat/"+id, http.StatusSeeOther)
		return
	}

	online := h.llm.OnlineModels(r.Context())
	selected := h.resolveModel(w, r, online)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.setFlash(w, "error", "Could not read the submission.")
		http.Redirect(w, r, "/chat/"+id, http.StatusSeeOther)
		return
	}

	var att *llm.Attachment
	if f, fh, err := r.FormFile("context_file"); err == nil {
		data, readErr := io.ReadAll(io.LimitReader(f, maxUploadBytes))
		f.Close()
		if readErr != nil {
			h.setFlash(w, "error", fmt.Sprintf("File read error: %v", readErr))
			http.Redirect(w, r, "/chat/"+id, http.StatusSeeOther)
			return
		}
		att = &llm.Attachment{Name: fh.Filename, Data: data}
	}

	result, err := h.llm.Submit(r.Context(), user, id, r.FormValue("prompt"), att, selected)
	switch {
	case errors.Is(err, llm.ErrNoModel):
		h.setFlash(w, "error", "No models online.")
	case errors.Is(err, store.ErrNotFound):
		http.Redirect(w, r, "/new", http.StatusSeeOther)
		return
	case err != nil:
		h.logger.Error("turn submission failed", zap.Error(err), zap.String("id", id))
		h.setFlash(w, "error", "Could not save the conversation.")
	case result.GatewayErr != nil:
		h.setFlash(w, "error", fmt.Sprintf("LLM Manager error: %v", result.GatewayErr))
	}
	http.Redirect(w, r, "/chat/"+id, http.StatusSeeOther)
}

func (h *Handler) selectModel(w http.ResponseWriter, r *http.Request, user string) {
	requested := r.FormValue("model")
	chatID := r.FormValue("chat_id")

	online := h.llm.OnlineModels(r.Context())
	model, err := llm.SelectModel(requested, online)
	if err != nil {
		h.setFlash(w, "error", "Invalid or offline model.")
	} else {
		http.SetCookie(w, &http.Cookie{Name: modelCookie, Value: url.QueryEscape(model), Path: "/"})
		h.setFlash(w, "success", "Model switched to "+model)
	}

	target := "/"
	if chatID != "" {
		target = "/chat/" + chatID
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) renameChat(w http.ResponseWriter, r *http.Request, user string) {
	id := r.PathValue("id")
	title := strings.TrimSpace(r.FormValue("new_title"))
	if title == "" {
		h.setFlash(w, "error", "Title cannot be empty.")
		http.Redirect(w, r, "/chat/"+id, http.StatusSeeOther)
		return
	}

	_, err := h.store.Update(user, id, func(rec *models.ChatRecord) (store.SaveOptions, error) {
		return store.SaveOptions{Title: title}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Redirect(w, r, "/new", http.StatusSeeOther)
			return
		}
		h.logger.Error("failed to rename chat", zap.Error(err), zap.String("id", id))
		h.setFlash(w, "error", "Could not rename the chat.")
	}
	http.Redirect(w, r, "/chat/"+id, http.StatusSeeOther)
}

func (h *Handler) duplicateChat(w http.ResponseWriter, r *http.Request, user string) {
	id := r.PathValue("id")
	rec, err := h.store.Duplicate(user, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Redirect(w, r, "/new", http.StatusSeeOther)
			return
		}
		h.logger.Error("failed to duplicate chat", zap.Error(err), zap.String("id", id))
		h.setFlash(w, "error", "Could not duplicate the chat.")
		http.Redirect(w, r, "/chat/"+id, http.StatusSeeOther)
		return
	}
	h.setFlash(w, "success", "Chat duplicated.")
	http.Redirect(w, r, "/chat/"+rec.ID, http.StatusSeeOther)
}

func (h *Handler) deleteChat(w http.ResponseWriter, r *http.Request, user string) {
	id := r.PathValue("id")
	if err := h.store.Delete(user, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.setFlash(w, "error", "Chat not found.")
		} else {
			h.logger.Error("failed to delete chat", zap.Error(err), zap.String("id", id))
			h.setFlash(w, "error", "Could not delete the chat.")
		}
	} else {
		h.setFlash(w, "success", "Chat deleted.")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// resolveModel reconciles the cookie-carried selection against the live
// online list and writes the cookie back when the binding changed.
func (h *Handler) resolveModel(w http.ResponseWriter, r *http.Request, online []string) string {
	var current string
	if c, err := r.Cookie(modelCookie); err == nil {
		current, _ = url.QueryUnescape(c.Value)
	}
	resolved := llm.ResolveModel(current, online)
	if resolved != current {
		http.SetCookie(w, &http.Cookie{Name: modelCookie, Value: url.QueryEscape(resolved), Path: "/"})
	}
	return resolved
}

func (h *Handler) limiter(user string) *rate.Limiter {
	h.limMu.Lock()
	defer h.limMu.Unlock()
	lim, ok := h.limiters[user]
	if !ok {
		lim = rate.NewLimiter(h.submitRate, h.submitBurst)
		h.limiters[user] = lim
	}
	return lim
}

func (h *Handler) setFlash(w http.ResponseWriter, level, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:  flashCookie,
		Value: url.QueryEscape(level + "|" + msg),
		Path:  "/",
	})
}

func (h *Handler) popFlash(w http.ResponseWriter, r *http.Request) (level, msg string) {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return "", ""
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", MaxAge: -1})
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "", ""
	}
	level, msg, ok := strings.Cut(raw, "|")
	if !ok {
		return "info", raw
	}
	return level, msg
}

func (h *Handler) renderLogin(w http.ResponseWriter, errMsg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.loginTmpl.Execute(w, loginPage{Error: errMsg}); err != nil {
		h.logger.Error("failed to render login page", zap.Error(err))
	}
}

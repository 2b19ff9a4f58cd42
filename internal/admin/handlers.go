package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/chronos/internal/engine"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/goodtune/chronos/internal/storage"
	"github.com/gorilla/mux"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, StatusResponse{
		GlobalTimerActive: s.engine.GlobalTimerActive(),
		ActiveSessions:    len(s.engine.ActiveSessions()),
		NextReplenish:     s.engine.NextReplenish(),
		WorkingDirectory:  s.engine.Bridge().WorkingDirectory(),
	})
}

func (s *Server) userView(r *http.Request, user storage.User, sessions map[string]storage.Session) (UserView, error) {
	left, err := s.engine.TimeLeft(r.Context(), user.ID)
	if err != nil {
		return UserView{}, err
	}

	view := UserView{
		ID:              user.ID,
		Slots:           user.Slots,
		Operator:        user.Operator,
		Excluded:        s.engine.IsExcluded(user.ID),
		Present:         s.presence.Present(user.ID),
		TimeLeftSeconds: int64(left / time.Second),
	}
	if view.Slots == nil {
		view.Slots = []int64{}
	}
	if session, ok := sessions[user.ID]; ok {
		view.Session = &session
	}
	return view, nil
}

func (s *Server) sessionsByUser() map[string]storage.Session {
	sessions := make(map[string]storage.Session)
	for _, session := range s.engine.ActiveSessions() {
		sessions[session.UserID] = session
	}
	return sessions
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.engine.Users(r.Context())
	if err != nil {
		s.writeEngineError(w, "list_users", err)
		return
	}

	sessions := s.sessionsByUser()
	views := make([]UserView, 0, len(users))
	for _, user := range users {
		view, err := s.userView(r, user, sessions)
		if err != nil {
			s.writeEngineError(w, "list_users", err)
			return
		}
		views = append(views, view)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": views,
		"count": len(views),
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		WriteError(w, http.StatusBadRequest, "A user id is required")
		return
	}

	created, err := s.engine.CreateUser(r.Context(), req.ID)
	if err != nil {
		s.writeEngineError(w, "create_user", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, map[string]interface{}{"id": req.ID, "created": created})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	user, err := s.engine.User(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, "get_user", err)
		return
	}
	view, err := s.userView(r, *user, s.sessionsByUser())
	if err != nil {
		s.writeEngineError(w, "get_user", err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req OperatorRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := s.engine.UpdateUser(r.Context(), id, func(user *storage.User) error {
		user.Operator = req.Operator
		return nil
	})
	if err != nil {
		s.writeEngineError(w, "set_operator", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "operator": req.Operator})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req GrantRequest
	if err := decodeBody(r, &req); err != nil || req.Seconds <= 0 {
		WriteError(w, http.StatusBadRequest, "A positive number of seconds is required")
		return
	}

	if err := s.engine.Grant(r.Context(), id, req.Seconds); err != nil {
		s.writeEngineError(w, "grant", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "granted_seconds": req.Seconds})
}

// handleJoin marks a user present and starts a session when the engine lets
// the user in.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	allowed, err := s.engine.RequestJoin(ctx, id)
	if err != nil {
		s.writeEngineError(w, "join", err)
		return
	}
	if !allowed {
		WriteJSON(w, http.StatusForbidden, JoinResponse{})
		return
	}

	s.presence.Join(id)
	started, err := s.engine.StartSession(ctx, id, false)
	if err != nil && !errors.Is(err, engine.ErrSessionActive) {
		s.writeEngineError(w, "join", err)
		return
	}
	WriteJSON(w, http.StatusOK, JoinResponse{Allowed: true, Started: started})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.presence.Leave(id)
	if err := s.engine.StopSession(r.Context(), id, engine.StopExplicit); err != nil {
		s.writeEngineError(w, "leave", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "present": false})
}

// contractor returns the caller of a gated operation, answering 401 when the
// request names none.
func (s *Server) contractor(w http.ResponseWriter, r *http.Request) (permission.Contractor, bool) {
	contractor, ok := ContractorFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Set "+HeaderContractor+" or a console token")
	}
	return contractor, ok
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	contractor, ok := s.contractor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	if err := s.engine.PauseTimerFor(r.Context(), contractor, id); err != nil {
		s.writeEngineError(w, "pause_timer", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "excluded": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	contractor, ok := s.contractor(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	started, err := s.engine.ResumeTimerFor(r.Context(), contractor, id)
	if err != nil {
		s.writeEngineError(w, "resume_timer", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "excluded": false, "started": started})
}

func timerResponse(active bool, failures map[string]error) TimerResponse {
	resp := TimerResponse{Active: active}
	if len(failures) > 0 {
		resp.Failures = make(map[string]string, len(failures))
		for id, err := range failures {
			resp.Failures[id] = err.Error()
		}
	}
	return resp
}

func (s *Server) handleStopTimer(w http.ResponseWriter, r *http.Request) {
	contractor, ok := s.contractor(w, r)
	if !ok {
		return
	}

	failures, err := s.engine.StopGlobalTimer(r.Context(), contractor)
	if err != nil {
		s.writeEngineError(w, "stop_global_timer", err)
		return
	}
	WriteJSON(w, http.StatusOK, timerResponse(false, failures))
}

func (s *Server) handleStartTimer(w http.ResponseWriter, r *http.Request) {
	contractor, ok := s.contractor(w, r)
	if !ok {
		return
	}

	failures, err := s.engine.StartGlobalTimer(r.Context(), contractor)
	if err != nil {
		s.writeEngineError(w, "start_global_timer", err)
		return
	}
	WriteJSON(w, http.StatusOK, timerResponse(true, failures))
}

func (s *Server) handleReplenish(w http.ResponseWriter, r *http.Request) {
	contractor, ok := s.contractor(w, r)
	if !ok {
		return
	}

	if err := s.engine.ReplenishFor(r.Context(), contractor); err != nil {
		s.writeEngineError(w, "replenish", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"replenished":    true,
		"next_replenish": s.engine.NextReplenish(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.engine.ActiveSessions()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleAmounts returns the replenishment amount of one day (?day=monday)
// or of the whole week.
func (s *Server) handleAmounts(w http.ResponseWriter, r *http.Request) {
	days := []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	}
	if name := r.URL.Query().Get("day"); name != "" {
		day, err := storage.ParseWeekday(name)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		days = []time.Weekday{day}
	}

	amounts := make([]AmountResponse, 0, len(days))
	for _, day := range days {
		amount, err := s.engine.ReplenishmentAmount(r.Context(), day)
		if err != nil {
			s.writeEngineError(w, "replenishment_amount", err)
			return
		}
		amounts = append(amounts, AmountResponse{
			Day:     storage.WeekdayKey(day),
			Seconds: int64(amount / time.Second),
		})
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"amounts": amounts})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config(r.Context(), true)
	if err != nil {
		s.writeEngineError(w, "get_config", err)
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var incoming storage.Config
	if err := decodeBody(r, &incoming); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid config document: "+err.Error())
		return
	}
	if err := incoming.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.engine.UpdateConfig(r.Context(), func(cfg *storage.Config) error {
		*cfg = incoming
		return nil
	})
	if err != nil {
		s.writeEngineError(w, "update_config", err)
		return
	}
	s.logger.Info().Msg("Engine config replaced through the API")
	WriteJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.ReloadConfig(r.Context())
	if err != nil {
		s.writeEngineError(w, "reload_config", err)
		return
	}
	if s.config.OnReload != nil {
		if err := s.config.OnReload(r.Context()); err != nil {
			s.writeEngineError(w, "reload_config", err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, cfg)
}

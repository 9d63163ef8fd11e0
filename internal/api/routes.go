package api

import "net/http"

func (s *Server) registerRoutes() {
	s.router.Use(s.instrument)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	runs := s.router.PathPrefix("/api/v1/runs").Subrouter()
	runs.HandleFunc("", s.handleSubmitRun).Methods(http.MethodPost)
	runs.HandleFunc("", s.handleListRuns).Methods(http.MethodGet)
	// stats 必须先于 {id} 注册。
	runs.HandleFunc("/stats", s.handleRunStats).Methods(http.MethodGet)
	runs.HandleFunc("/{id}", s.handleGetRun).Methods(http.MethodGet)
}

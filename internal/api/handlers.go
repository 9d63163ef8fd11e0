package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/jobs"
)

const maxWait = 60 * time.Second

type chatRequest struct {
	Query string `json:"query"`
}

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat 同步执行一次查询。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeDetail(w, http.StatusServiceUnavailable, "agent 未初始化")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeDetail(w, http.StatusBadRequest, "query 不能为空")
		return
	}

	resp, err := s.runner.Run(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("执行查询失败", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeDetail(w, http.StatusServiceUnavailable, "异步运行未启用")
		return
	}

	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	job, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeDetail(w, http.StatusServiceUnavailable, "异步运行未启用")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeDetail(w, http.StatusServiceUnavailable, "异步运行未启用")
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleGetRun 返回运行详情。带 wait 参数时最多等待该时长直到运行结束。
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeDetail(w, http.StatusServiceUnavailable, "异步运行未启用")
		return
	}
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		writeDetail(w, http.StatusBadRequest, "缺少运行 ID")
		return
	}

	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait <= 0 {
			writeDetail(w, http.StatusBadRequest, "wait 参数无效")
			return
		}
		if wait > maxWait {
			wait = maxWait
		}
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		job, err := s.runs.WaitUntilCompleted(ctx, id, 100*time.Millisecond)
		cancel()
		if err == nil {
			writeJSON(w, http.StatusOK, job)
			return
		}
		if !stdErrors.Is(err, context.DeadlineExceeded) {
			writeError(w, statusFor(err), err)
			return
		}
	}

	job, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func parseListOptions(r *http.Request) ([]jobs.ListOption, error) {
	query := r.URL.Query()
	var opts []jobs.ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 参数无效")
		}
		opts = append(opts, jobs.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 参数无效")
		}
		opts = append(opts, jobs.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []jobs.Status
		for _, part := range strings.Split(raw, ",") {
			status := jobs.Status(strings.ToLower(strings.TrimSpace(part)))
			if !jobs.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, jobs.WithStatuses(statuses...))
	}
	switch strings.ToLower(query.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, jobs.WithSortOrder(jobs.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order 仅支持 asc/desc")
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, jobs.WithQuery(q))
	}
	if raw := query.Get("since"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "since 参数无效")
		}
		opts = append(opts, jobs.WithUpdatedSince(ts))
	}
	if raw := query.Get("until"); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "until 参数无效")
		}
		opts = append(opts, jobs.WithUpdatedUntil(ts))
	}
	return opts, nil
}

// parseTimestamp 接受 RFC3339 或 Unix 秒。
func parseTimestamp(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case jobs.CodeJobNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case jobs.CodeJobValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case jobs.CodeJobConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case jobs.CodeJobPublish, xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeError(w http.ResponseWriter, status int, err error) {
	if coded, ok := xerrors.From(err); ok {
		writeJSON(w, status, errorBody{Detail: coded.Message(), Code: string(coded.Code())})
		return
	}
	writeDetail(w, status, err.Error())
}

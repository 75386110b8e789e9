package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/monitor"
	"dex-engine/internal/order"
	"dex-engine/internal/risk"
)

func startMonitorServer(ctx context.Context, svc *monitor.Service, engine *Engine, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := svc.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{"healthy": true}
		if !engine.Healthy() {
			status = http.StatusServiceUnavailable
			body["healthy"] = false
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logger.Warn("写入健康检查响应失败", zap.Error(err))
		}
	})

	mux.HandleFunc("/intents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var intent order.Intent
		if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
			http.Error(w, fmt.Sprintf("解析意图失败: %v", err), http.StatusBadRequest)
			return
		}
		if intent.SubmittedAt.IsZero() {
			intent.SubmittedAt = time.Now().UTC()
		}

		o, err := engine.SubmitIntent(r.Context(), intent)
		if err != nil {
			var rejection *risk.RejectionError
			switch {
			case errors.As(err, &rejection):
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"reason": string(rejection.Reason),
					"detail": rejection.Message,
				})
			case errors.Is(err, ErrNotAccepting):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, o, logger)
	})

	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/orders/")
		if r.Method == http.MethodPost && strings.HasSuffix(rest, "/cancel") {
			orderID := strings.TrimSuffix(rest, "/cancel")
			if err := engine.Cancel(orderID); err != nil {
				status := http.StatusConflict
				if errors.Is(err, order.ErrUnknownOrder) {
					status = http.StatusNotFound
				}
				http.Error(w, err.Error(), status)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}

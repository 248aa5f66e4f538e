package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"reorder-api/pkg/logging"
)

// DefaultMaxRequestLogs bounds the in-memory request log.
const DefaultMaxRequestLogs = 10000

// LogEntry は単一のリクエストログを表します。
type LogEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
}

// MonitoringService はAPIのモニタリング機能を提供します。
type MonitoringService struct {
	logs    []LogEntry
	maxLogs int
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMonitoringService は新しいMonitoringServiceを生成します。
func NewMonitoringService() *MonitoringService {
	return &MonitoringService{
		logs:    make([]LogEntry, 0),
		maxLogs: DefaultMaxRequestLogs,
		now:     time.Now,
	}
}

// LogRequest はリクエストを記録します。古いエントリから破棄されます。
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if over := len(s.logs) - s.maxLogs; over > 0 {
		s.logs = append(s.logs[:0], s.logs[over:]...)
	}
}

// unmatchedRoute groups requests that hit no registered route.
const unmatchedRoute = "unmatched"

// LoggingMiddleware records every request except admin and monitoring calls,
// and writes one structured log line per request.
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()

		c.Next()

		path := c.Request.URL.Path
		// dashboard stats are keyed by route template so ids do not fan out
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()

		event := logging.Info()
		if status >= 500 {
			event = logging.Error()
		} else if status >= 400 {
			event = logging.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("request")

		if strings.HasPrefix(route, "/api/v1/admin") || strings.HasPrefix(route, "/api/v1/monitoring") {
			return
		}

		s.LogRequest(LogEntry{
			Timestamp:    start,
			Path:         route,
			Method:       c.Request.Method,
			StatusCode:   status,
			ResponseTime: elapsed,
		})
	}
}

// HourlyCount is the request count for one hour bucket.
type HourlyCount struct {
	Time     string `json:"time"`
	Requests int    `json:"requests"`
}

// StatusClassCount counts responses per status class.
type StatusClassCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// EndpointLatency is the mean response time of one path in milliseconds.
type EndpointLatency struct {
	Endpoint     string `json:"endpoint"`
	ResponseTime int64  `json:"responseTime"`
}

// DashboardData はダッシュボードに表示するための集計済みデータです。
type DashboardData struct {
	RequestsOverTime []HourlyCount      `json:"requestsOverTime"`
	Endpoints        map[string]int     `json:"endpoints"`
	StatusCodes      []StatusClassCount `json:"statusCodes"`
	AvgResponseTimes []EndpointLatency  `json:"avgResponseTimes"`
	RecentErrors     []LogEntry         `json:"recentErrors"`
}

// GetDashboardData は指定された期間 (時間) のログを集計します。時刻はUTCです。
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	if periodHours <= 0 {
		periodHours = 24
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UTC()
	since := now.Add(-time.Duration(periodHours) * time.Hour)

	filtered := make([]LogEntry, 0)
	for _, entry := range s.logs {
		if entry.Timestamp.After(since) {
			filtered = append(filtered, entry)
		}
	}

	// hourly buckets, oldest first
	requests := make([]HourlyCount, periodHours)
	bucketIndex := make(map[time.Time]int, periodHours)
	for i := 0; i < periodHours; i++ {
		bucket := now.Add(-time.Duration(periodHours-1-i) * time.Hour).Truncate(time.Hour)
		bucketIndex[bucket] = i
		requests[i] = HourlyCount{Time: bucket.Format("15:00")}
	}

	endpoints := make(map[string]int)
	classes := map[string]int{"2xx Success": 0, "4xx Client Error": 0, "5xx Server Error": 0}
	latencySum := make(map[string]time.Duration)

	for _, entry := range filtered {
		if i, ok := bucketIndex[entry.Timestamp.UTC().Truncate(time.Hour)]; ok {
			requests[i].Requests++
		}
		endpoints[entry.Path]++
		latencySum[entry.Path] += entry.ResponseTime

		switch {
		case entry.StatusCode >= 200 && entry.StatusCode < 300:
			classes["2xx Success"]++
		case entry.StatusCode >= 400 && entry.StatusCode < 500:
			classes["4xx Client Error"]++
		case entry.StatusCode >= 500:
			classes["5xx Server Error"]++
		}
	}

	statusCodes := make([]StatusClassCount, 0, len(classes))
	for name, value := range classes {
		statusCodes = append(statusCodes, StatusClassCount{Name: name, Value: value})
	}
	sort.Slice(statusCodes, func(i, j int) bool { return statusCodes[i].Name < statusCodes[j].Name })

	latencies := make([]EndpointLatency, 0, len(latencySum))
	for path, total := range latencySum {
		latencies = append(latencies, EndpointLatency{
			Endpoint:     path,
			ResponseTime: total.Milliseconds() / int64(endpoints[path]),
		})
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i].Endpoint < latencies[j].Endpoint })

	recentErrors := make([]LogEntry, 0)
	for i := len(filtered) - 1; i >= 0 && len(recentErrors) < 10; i-- {
		if filtered[i].StatusCode >= 500 {
			recentErrors = append(recentErrors, filtered[i])
		}
	}

	return DashboardData{
		RequestsOverTime: requests,
		Endpoints:        endpoints,
		StatusCodes:      statusCodes,
		AvgResponseTimes: latencies,
		RecentErrors:     recentErrors,
	}
}

package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// WS метрики - количество активных соединений
	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Количество активных WebSocket соединений",
		},
	)

	wsDroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_dropped_frames_total",
			Help: "Исходящие кадры, отброшенные из-за переполненной очереди",
		},
	)

	gatewayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_total",
			Help: "Обработанные входящие события по типу и коду результата",
		},
		[]string{"event", "code"},
	)

	gatewayEventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_event_duration_seconds",
			Help:    "Время обработки входящего события",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	voiceMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voice_members",
			Help: "Пользователи в голосовых каналах",
		},
	)

	sfuHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sfu_open_handles",
			Help: "Открытые хэндлы SFU по типу",
		},
		[]string{"kind"},
	)

	ephemeralMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephemeral_messages",
			Help: "Сообщения в кэше",
		},
	)

	evictedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ephemeral_messages_evicted_total",
			Help: "Сообщения, удаленные по истечении срока хранения",
		},
	)
)

// RecordHTTPMetrics записывает метрики HTTP запроса
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

func IncrementDroppedFrames() {
	wsDroppedFrames.Inc()
}

// RecordEvent записывает результат обработки события шлюза. Пустой code означает успех
func RecordEvent(event, code string, duration time.Duration) {
	if code == "" {
		code = "OK"
	}

	gatewayEventsTotal.WithLabelValues(event, code).Inc()
	gatewayEventDuration.WithLabelValues(event).Observe(duration.Seconds())
}

func IncrementVoiceMembers() {
	voiceMembers.Inc()
}

func DecrementVoiceMembers() {
	voiceMembers.Dec()
}

func IncrementSFUHandles(kind string) {
	sfuHandles.WithLabelValues(kind).Inc()
}

func DecrementSFUHandles(kind string) {
	sfuHandles.WithLabelValues(kind).Dec()
}

func IncrementEphemeralMessages() {
	ephemeralMessages.Inc()
}

func RecordEvictedMessages(n int) {
	ephemeralMessages.Sub(float64(n))
	evictedMessages.Add(float64(n))
}

// Package monitor provides a live status API for the preprocessor.
// Frontends connect over WebSocket, subscribe to status objects and
// receive periodic notifications while files are processed. A JSON-RPC
// 2.0 endpoint and REST mirrors expose the same queries for one-shot
// clients.
//
// Copyright (C) 2026  Octolapse Go Port
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zipper177/Octolapse/pkg/log"
	"github.com/zipper177/Octolapse/pkg/metrics"
	"github.com/zipper177/Octolapse/pkg/pool"
)

const serverVersion = "v0.9.0-octowipe"

// Server exposes processor status over WebSocket and HTTP.
type Server struct {
	// Processor interface for status queries
	processor ProcessorInterface

	// HTTP server
	httpServer *http.Server
	addr       string

	// WebSocket management
	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// Status subscriptions, clientID -> object -> attributes
	subscriptions map[int64]map[string][]string
	subMu         sync.RWMutex

	// Processed job history
	history *JobHistory

	updateInterval time.Duration
	logger         *log.Logger
	wm             *metrics.WipeMetrics

	running   atomic.Bool
	startTime time.Time
}

// ProcessorInterface defines the interface for processor status
// queries.
type ProcessorInterface interface {
	// GetObjectsList returns the names of the available status objects.
	GetObjectsList() []string

	// GetObjectStatus returns the status of one object. A nil attrs
	// slice returns all attributes.
	GetObjectStatus(name string, attrs []string) map[string]any

	// GetState returns the pipeline state.
	// One of: "idle", "processing", "done", "error"
	GetState() string
}

// Config holds server configuration.
type Config struct {
	// HTTP address to listen on (e.g., ":7125")
	Addr string

	// Processor interface for status queries
	Processor ProcessorInterface

	// UpdateInterval is the time between status broadcasts to
	// subscribed clients. Defaults to one second.
	UpdateInterval time.Duration

	// Metrics receives the connected client gauge. Defaults to the
	// process-wide bundle.
	Metrics *metrics.WipeMetrics

	// Logger for connection and dispatch events. Defaults to the
	// "monitor" logger.
	Logger *log.Logger
}

// New creates a new monitor server.
func New(cfg Config) *Server {
	s := &Server{
		processor:      cfg.Processor,
		addr:           cfg.Addr,
		wsClients:      make(map[int64]*WSClient),
		subscriptions:  make(map[int64]map[string][]string),
		history:        NewJobHistory(),
		updateInterval: cfg.UpdateInterval,
		logger:         cfg.Logger,
		wm:             cfg.Metrics,
		startTime:      time.Now(),
	}

	if s.updateInterval <= 0 {
		s.updateInterval = time.Second
	}
	if s.logger == nil {
		s.logger = log.GetLogger("monitor")
	}
	if s.wm == nil {
		s.wm = metrics.GlobalMetrics()
	}

	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // local tool, frontends connect from anywhere
		},
	}

	return s
}

// History returns the processed job history.
func (s *Server) History() *JobHistory {
	return s.history
}

// Start starts the monitor server and blocks until it stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// JSON-RPC endpoint
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)

	// WebSocket endpoint
	mux.HandleFunc("/websocket", s.handleWebSocket)

	// REST mirrors of the JSON-RPC methods
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/processor/info", s.handleProcessorInfo)
	mux.HandleFunc("/processor/status", s.handleProcessorStatus)
	mux.HandleFunc("/processor/objects/list", s.handleObjectsList)
	mux.HandleFunc("/processor/objects/query", s.handleObjectsQuery)

	// Processed job history endpoints
	s.history.RegisterEndpoints(mux)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.corsMiddleware(mux),
	}

	s.running.Store(true)
	s.logger.Info("monitor server starting on %s", s.addr)

	go s.statusBroadcastLoop()

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine and reports a startup
// failure on the returned channel.
func (s *Server) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop stops the server and disconnects every client.
func (s *Server) Stop() error {
	s.running.Store(false)

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()
	s.wm.SetMonitorClients(0)

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests over plain HTTP.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONRPCError(w, nil, -32700, "Parse error")
		return
	}

	result, err := s.dispatchMethod(req.Method, req.Params, nil)
	if err != nil {
		writeJSONRPCError(w, req.ID, -32000, err.Error())
		return
	}

	writeJSONRPCResult(w, req.ID, result)
}

// dispatchMethod routes a method call to the appropriate handler.
func (s *Server) dispatchMethod(method string, params map[string]any, client *WSClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo()
	case "server.connection.identify":
		return s.methodIdentify(params)
	case "server.history.list":
		return s.methodHistoryList(params)
	case "server.history.totals":
		return s.methodHistoryTotals()
	case "processor.info":
		return s.methodProcessorInfo()
	case "processor.status":
		return s.methodProcessorStatus()
	case "processor.objects.list":
		return s.methodObjectsList()
	case "processor.objects.query":
		return s.methodObjectsQuery(params)
	case "processor.objects.subscribe":
		return s.methodObjectsSubscribe(params, client)
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

// Method implementations

func (s *Server) state() string {
	if s.processor != nil {
		return s.processor.GetState()
	}
	return "idle"
}

func stateMessage(state string) string {
	switch state {
	case "processing":
		return "Processing input"
	case "done":
		return "Processing complete"
	case "error":
		return "Processing failed"
	default:
		return "Waiting for work"
	}
}

func (s *Server) methodServerInfo() (any, error) {
	hostname, _ := os.Hostname()
	state := s.state()

	s.wsClientMu.RLock()
	clients := len(s.wsClients)
	s.wsClientMu.RUnlock()

	return map[string]any{
		"processor_connected": s.processor != nil,
		"processor_state":     state,
		"components":          []string{"processor", "history"},
		"failed_components":   []string{},
		"warnings":            []string{},
		"websocket_count":     clients,
		"monitor_version":     serverVersion,
		"api_version":         []int{1, 0, 0},
		"api_version_string":  "1.0.0",
		"hostname":            hostname,
	}, nil
}

func (s *Server) methodProcessorInfo() (any, error) {
	hostname, _ := os.Hostname()
	state := s.state()

	return map[string]any{
		"state":            state,
		"state_message":    stateMessage(state),
		"hostname":         hostname,
		"software_version": serverVersion,
		"update_interval":  s.updateInterval.Seconds(),
	}, nil
}

func (s *Server) methodProcessorStatus() (any, error) {
	var names []string
	if s.processor != nil {
		names = s.processor.GetObjectsList()
	} else {
		names = defaultObjectNames()
	}

	status := make(map[string]any)
	for _, name := range names {
		if objStatus := s.objectStatus(name, nil); objStatus != nil {
			status[name] = objStatus
		}
	}

	return map[string]any{
		"state":     s.state(),
		"eventtime": s.eventTime(),
		"status":    status,
	}, nil
}

func (s *Server) methodObjectsList() (any, error) {
	names := defaultObjectNames()
	if s.processor != nil {
		names = s.processor.GetObjectsList()
	}
	return map[string]any{"objects": names}, nil
}

func (s *Server) methodObjectsQuery(params map[string]any) (any, error) {
	objects, err := objectsParam(params)
	if err != nil {
		return nil, err
	}

	result := make(map[string]any)
	for objName, attrsVal := range objects {
		if status := s.objectStatus(objName, attrList(attrsVal)); status != nil {
			result[objName] = status
		}
	}

	return map[string]any{
		"eventtime": s.eventTime(),
		"status":    result,
	}, nil
}

func (s *Server) methodObjectsSubscribe(params map[string]any, client *WSClient) (any, error) {
	if client == nil {
		return nil, fmt.Errorf("subscription requires a WebSocket connection")
	}

	objects, err := objectsParam(params)
	if err != nil {
		return nil, err
	}

	s.subMu.Lock()
	s.subscriptions[client.id] = make(map[string][]string)
	for objName, attrsVal := range objects {
		s.subscriptions[client.id][objName] = attrList(attrsVal)
	}
	s.subMu.Unlock()

	// Return the initial status snapshot
	return s.methodObjectsQuery(params)
}

func (s *Server) methodIdentify(params map[string]any) (any, error) {
	clientName := "unknown"
	if name, ok := params["client_name"].(string); ok {
		clientName = name
	}
	s.logger.Debug("client identified as %s", clientName)
	return map[string]any{
		"connection_id": atomic.LoadInt64(&s.nextWSID),
	}, nil
}

func (s *Server) methodHistoryList(params map[string]any) (any, error) {
	limit := 50
	if v, ok := params["limit"].(float64); ok {
		limit = int(v)
	}
	start := 0
	if v, ok := params["start"].(float64); ok {
		start = int(v)
	}
	order := "desc"
	if v, ok := params["order"].(string); ok {
		order = v
	}

	jobs := s.history.ListJobs(limit, start, 0, 0, order)
	return map[string]any{
		"count": s.history.Count(),
		"jobs":  jobs,
	}, nil
}

func (s *Server) methodHistoryTotals() (any, error) {
	return map[string]any{"job_totals": s.history.GetTotals()}, nil
}

// objectsParam extracts the objects map shared by query and subscribe.
func objectsParam(params map[string]any) (map[string]any, error) {
	objectsVal, ok := params["objects"]
	if !ok {
		return nil, fmt.Errorf("missing 'objects' parameter")
	}
	objects, ok := objectsVal.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'objects' must be an object")
	}
	return objects, nil
}

// attrList converts a JSON attribute list. A null value means all
// attributes and yields nil.
func attrList(attrsVal any) []string {
	attrSlice, ok := attrsVal.([]any)
	if !ok {
		return nil
	}
	var attrs []string
	for _, attr := range attrSlice {
		if attrStr, ok := attr.(string); ok {
			attrs = append(attrs, attrStr)
		}
	}
	return attrs
}

func (s *Server) objectStatus(name string, attrs []string) map[string]any {
	if s.processor != nil {
		return s.processor.GetObjectStatus(name, attrs)
	}
	return s.getDefaultObjectStatus(name, attrs)
}

func (s *Server) eventTime() float64 {
	return time.Since(s.startTime).Seconds()
}

func defaultObjectNames() []string {
	return []string{"progress", "stats", "wiper"}
}

// getDefaultObjectStatus returns zeroed status when no processor is
// attached, so frontends can render before a run starts.
func (s *Server) getDefaultObjectStatus(name string, attrs []string) map[string]any {
	defaults := map[string]map[string]any{
		"progress": {
			"bytes_read":  int64(0),
			"bytes_total": int64(0),
			"percent":     -1.0,
		},
		"stats": {
			"lines_read":     int64(0),
			"lines_written":  int64(0),
			"commands":       int64(0),
			"retractions":    int64(0),
			"wipes_inserted": int64(0),
			"wipes_skipped":  int64(0),
			"steps_emitted":  int64(0),
			"path_reused_mm": 0.0,
		},
		"wiper": {
			"enabled":             false,
			"full_wipe":           true,
			"history_positions":   0,
			"history_distance_mm": 0.0,
			"retraction_length":   0.0,
			"retraction_feedrate": 0.0,
			"wipe_feedrate":       0.0,
			"travel_speed":        0.0,
		},
	}

	status, ok := defaults[name]
	if !ok {
		return nil
	}
	return FilterStatus(status, attrs)
}

// REST endpoint handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	result, err := s.methodServerInfo()
	if err != nil {
		writeJSONError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleProcessorInfo(w http.ResponseWriter, r *http.Request) {
	result, err := s.methodProcessorInfo()
	if err != nil {
		writeJSONError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleProcessorStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.methodProcessorStatus()
	if err != nil {
		writeJSONError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleObjectsList(w http.ResponseWriter, r *http.Request) {
	result, err := s.methodObjectsList()
	if err != nil {
		writeJSONError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"result": result})
}

func (s *Server) handleObjectsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSONError(w, err, http.StatusBadRequest)
		return
	}

	result, err := s.methodObjectsQuery(params)
	if err != nil {
		writeJSONError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"result": result})
}

// corsMiddleware allows cross-origin requests from browser frontends.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// JSON response helpers

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    -32000,
			"message": err.Error(),
		},
	})
}

func writeJSONRPCResult(w http.ResponseWriter, id any, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jsonRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	})
}

func writeJSONRPCError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jsonRPCResponse{
		JSONRPC: "2.0",
		Error:   &jsonRPCError{Code: code, Message: message},
		ID:      id,
	})
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	mu     sync.Mutex
}

// newWSClient creates a new WebSocket client.
func (s *Server) newWSClient(conn *websocket.Conn) *WSClient {
	id := atomic.AddInt64(&s.nextWSID, 1)
	return &WSClient{
		id:     id,
		conn:   conn,
		server: s,
		sendCh: make(chan any, 64),
		done:   make(chan struct{}),
	}
}

// Send queues a message for the client, dropping it when the send
// buffer is full.
func (c *WSClient) Send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.logger.Warn("dropping message to client %d, send buffer full", c.id)
	}
}

// Close closes the client connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return // already closed
	default:
		close(c.done)
	}

	c.conn.Close()
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Debug("websocket read error: %v", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// writePump sends messages to the WebSocket connection and keeps it
// alive with pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debug("websocket write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var req jsonRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(nil, -32700, "Parse error")
		return
	}

	result, err := c.server.dispatchMethod(req.Method, req.Params, c)
	if err != nil {
		c.sendError(req.ID, -32000, err.Error())
		return
	}

	c.Send(jsonRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// sendError sends a JSON-RPC error response.
func (c *WSClient) sendError(id any, code int, message string) {
	c.Send(jsonRPCResponse{
		JSONRPC: "2.0",
		Error:   &jsonRPCError{Code: code, Message: message},
		ID:      id,
	})
}

// handleWebSocket handles WebSocket upgrade and connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error: %v", err)
		return
	}

	client := s.newWSClient(conn)

	s.wsClientMu.Lock()
	s.wsClients[client.id] = client
	count := len(s.wsClients)
	s.wsClientMu.Unlock()
	s.wm.SetMonitorClients(count)

	s.logger.Debug("websocket client %d connected", client.id)

	go client.writePump()

	// Tell the client where the pipeline stands before the first
	// broadcast tick.
	client.Send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notify_processor_state",
		"params":  []any{s.state()},
	})

	client.readPump() // blocks until the connection closes
}

// removeClient removes a client and cleans up its subscriptions.
func (s *Server) removeClient(client *WSClient) {
	s.wsClientMu.Lock()
	delete(s.wsClients, client.id)
	count := len(s.wsClients)
	s.wsClientMu.Unlock()
	s.wm.SetMonitorClients(count)

	s.subMu.Lock()
	delete(s.subscriptions, client.id)
	s.subMu.Unlock()

	s.logger.Debug("websocket client %d disconnected", client.id)
}

// statusBroadcastLoop periodically broadcasts status updates to
// subscribed clients.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(s.updateInterval)
	defer ticker.Stop()

	for s.running.Load() {
		<-ticker.C
		s.broadcastStatusUpdates()
	}
}

// broadcastStatusUpdates sends status updates to all subscribed
// clients. The assembled status map is pooled; it is marshaled before
// queueing so the map can be reused immediately.
func (s *Server) broadcastStatusUpdates() {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	eventtime := s.eventTime()

	for clientID, objects := range s.subscriptions {
		s.wsClientMu.RLock()
		client, ok := s.wsClients[clientID]
		s.wsClientMu.RUnlock()
		if !ok {
			continue
		}

		status := pool.GetStatusMap()
		for objName, attrs := range objects {
			if objStatus := s.objectStatus(objName, attrs); objStatus != nil {
				status[objName] = objStatus
			}
		}
		if len(status) == 0 {
			pool.PutStatusMap(status)
			continue
		}

		data, err := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notify_status_update",
			"params":  []any{status, eventtime},
		})
		pool.PutStatusMap(status)
		if err != nil {
			continue
		}

		client.Send(json.RawMessage(data))
	}
}

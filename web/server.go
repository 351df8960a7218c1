package web

import (
	"context"
	"embed"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/meshwatch/meshwatch/radio"
)

//go:embed all:templates/* all:static/css/* all:static/js/*
var content embed.FS

// Terminal color tags for the operator-facing access log
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

const defaultAckTimeout = 15 * time.Second

// Radio is the slice of the mesh client the dashboard needs.
type Radio interface {
	MyInfo() radio.MyInfo
	Peers() []radio.Node
	Channels() []radio.Channel
	FindNode(query string) (radio.Node, error)
	SendText(dest uint32, channel uint32, text string, wantAck bool) (uint32, error)
	SendTextAndWait(ctx context.Context, dest uint32, channel uint32, text string) error
}

// sendRequest is the inbound frame a dashboard client sends.
type sendRequest struct {
	Type    string `json:"type"`
	Dest    string `json:"dest"`
	Channel uint32 `json:"channel"`
	Text    string `json:"text"`
	WantAck bool   `json:"want_ack"`
}

// Server pushes live mesh state to browsers over WebSocket.
type Server struct {
	port         int
	upgrader     websocket.Upgrader
	clients      map[*websocket.Conn]bool
	clientsMutex sync.RWMutex
	radio        Radio
	templates    *template.Template
	authToken    string
	staticFS     fs.FS
	version      string
	writeMutex   sync.Map // Per-connection write mutex
	ackTimeout   time.Duration
}

// NewServer creates a new dashboard server around a connected radio.
func NewServer(port int, authToken string, version string, r Radio) (*Server, error) {
	templates, err := template.ParseFS(content, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %v", err)
	}

	staticFS, err := fs.Sub(content, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to create static file system: %v", err)
	}

	// Verify critical files exist
	files := []string{
		"css/styles.css",
		"js/app.js",
	}
	for _, file := range files {
		if _, err := fs.Stat(staticFS, file); err != nil {
			return nil, fmt.Errorf("required static file missing - %s: %v", file, err)
		}
	}

	return &Server{
		port:       port,
		upgrader:   websocket.Upgrader{},
		clients:    make(map[*websocket.Conn]bool),
		radio:      r,
		templates:  templates,
		authToken:  authToken,
		staticFS:   staticFS,
		version:    version,
		ackTimeout: defaultAckTimeout,
	}, nil
}

// authenticateRequest checks if the request has a valid auth token
func (s *Server) authenticateRequest(r *http.Request) bool {
	token := r.URL.Query().Get("auth")
	return token == s.authToken
}

// Handler builds the route table. Split out of Start so tests can
// serve it from httptest.
func (s *Server) Handler() http.Handler {
	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("auth")
			clientIP := r.Header.Get("X-Real-IP")
			if clientIP == "" {
				clientIP = r.RemoteAddr
			}

			if !s.authenticateRequest(r) {
				log.Infof("%s[DENIED]%s Access attempt from %s - Invalid token: %s%s",
					colorRed, colorWhite, clientIP, token, colorReset)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			log.Debugf("%s[AUTH]%s Successful access from %s%s",
				colorGreen, colorWhite, clientIP, colorReset)
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	fileServer := http.FileServer(http.FS(s.staticFS))
	mux.HandleFunc("/static/", authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.TrimPrefix(r.URL.Path, "/static/")
		fileServer.ServeHTTP(w, r)
	}))

	mux.HandleFunc("/", authMiddleware(s.handleIndex))
	mux.HandleFunc("/ws", authMiddleware(s.handleWebSocket))
	mux.HandleFunc("/save", authMiddleware(s.handleSaveNodes))

	return mux
}

// Start runs the dashboard server. It blocks until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Infof("%s[SERVER]%s Dashboard at http://localhost%s/?auth=%s%s",
		colorCyan, colorWhite, addr, s.authToken, colorReset)
	return http.ListenAndServe(addr, s.Handler())
}

// handleIndex serves the main page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"Version":   s.version,
		"AuthToken": s.authToken,
		"NodeName":  s.radio.MyInfo().DisplayName(),
	}

	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		log.WithError(err).Error("Error executing template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := r.Header.Get("X-Real-IP")
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("%s[WS-ERROR]%s WebSocket upgrade failed from %s: %v%s",
			colorRed, colorWhite, clientIP, err, colorReset)
		return
	}
	defer conn.Close()

	log.Infof("%s[WS-CONNECT]%s New WebSocket connection from %s%s",
		colorGreen, colorWhite, clientIP, colorReset)

	// Register client
	s.clientsMutex.Lock()
	s.clients[conn] = true
	s.clientsMutex.Unlock()

	// Clean up when done
	defer func() {
		s.clientsMutex.Lock()
		delete(s.clients, conn)
		s.writeMutex.Delete(conn)
		s.clientsMutex.Unlock()
		log.Infof("%s[WS-DISCONNECT]%s Client disconnected: %s%s",
			colorYellow, colorWhite, clientIP, colorReset)
	}()

	// Send the current mesh state to the new client
	conn.WriteJSON(map[string]interface{}{
		"type": "myinfo",
		"info": s.radio.MyInfo(),
	})
	conn.WriteJSON(s.nodesFrame())
	conn.WriteJSON(map[string]interface{}{
		"type":     "channels",
		"channels": s.radio.Channels(),
	})

	// Handle messages
	for {
		messageType, p, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Debug("WebSocket error")
			}
			break
		}

		if messageType == websocket.TextMessage {
			var msg sendRequest
			if err := json.Unmarshal(p, &msg); err != nil {
				log.WithError(err).Debug("Error parsing message")
				continue
			}

			switch msg.Type {
			case "send_text":
				s.handleSendText(conn, msg)
			}
		} else if messageType == websocket.PingMessage {
			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSendText resolves the destination and sends the message. With
// want_ack the delivery outcome comes back later as an "ack" frame.
func (s *Server) handleSendText(conn *websocket.Conn, msg sendRequest) {
	dest := radio.BroadcastAddr
	destName := "the mesh"
	if msg.Dest != "" && !strings.EqualFold(msg.Dest, "broadcast") {
		node, err := s.radio.FindNode(msg.Dest)
		if err != nil {
			s.writeClient(conn, map[string]interface{}{
				"type":  "error",
				"error": err.Error(),
			})
			return
		}
		dest = node.Num
		destName = node.DisplayName()
	}

	log.Infof("%s[SEND]%s Web client messaging %s%s",
		colorCyan, colorWhite, destName, colorReset)

	if msg.WantAck && dest != radio.BroadcastAddr {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.ackTimeout)
			defer cancel()

			err := s.radio.SendTextAndWait(ctx, dest, msg.Channel, msg.Text)
			ack := map[string]interface{}{
				"type": "ack",
				"dest": destName,
				"ok":   err == nil,
			}
			if err != nil {
				ack["error"] = err.Error()
			}
			s.writeClient(conn, ack)
		}()
		return
	}

	if _, err := s.radio.SendText(dest, msg.Channel, msg.Text, false); err != nil {
		s.writeClient(conn, map[string]interface{}{
			"type":  "error",
			"error": err.Error(),
		})
	}
}

// writeClient sends one frame to one client under its write mutex.
func (s *Server) writeClient(conn *websocket.Conn, frame interface{}) {
	mutex, _ := s.writeMutex.LoadOrStore(conn, &sync.Mutex{})
	writeMutex := mutex.(*sync.Mutex)

	writeMutex.Lock()
	err := conn.WriteJSON(frame)
	writeMutex.Unlock()

	if err != nil {
		log.WithError(err).Debug("Failed to send frame to client")
	}
}

// BroadcastUpdate sends an update to all connected WebSocket clients
func (s *Server) BroadcastUpdate(update interface{}) {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	for client := range s.clients {
		// Get or create mutex for this connection
		mutex, _ := s.writeMutex.LoadOrStore(client, &sync.Mutex{})
		writeMutex := mutex.(*sync.Mutex)

		writeMutex.Lock()
		err := client.WriteJSON(update)
		writeMutex.Unlock()

		if err != nil {
			log.WithError(err).Debug("Failed to send update to client")
			s.clientsMutex.RUnlock()
			s.clientsMutex.Lock()
			delete(s.clients, client)
			s.writeMutex.Delete(client)
			client.Close()
			s.clientsMutex.Unlock()
			s.clientsMutex.RLock()
		}
	}
}

// HandlePacket pushes a received packet and the refreshed node table
// to every dashboard client. The root wiring calls this for each event.
func (s *Server) HandlePacket(p radio.Packet) {
	s.BroadcastUpdate(map[string]interface{}{
		"type":   "packet",
		"packet": p,
	})
	s.BroadcastUpdate(s.nodesFrame())
}

func (s *Server) nodesFrame() map[string]interface{} {
	nodes := s.radio.Peers()
	return map[string]interface{}{
		"type":  "nodes",
		"nodes": nodes,
		"total": len(nodes),
	}
}

// SaveNodes generates a CSV export of the node table
func (s *Server) SaveNodes(w http.ResponseWriter) {
	log.Infof("%s[SAVE]%s Exporting node table to CSV%s",
		colorBlue, colorWhite, colorReset)

	// Set headers for CSV download
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=meshwatch-nodes-"+time.Now().Format("2006-01-02-150405")+".csv")

	writer := csv.NewWriter(w)
	defer writer.Flush()

	// Write header with version and timestamp
	writer.Write([]string{"MeshWatch " + s.version})
	writer.Write([]string{"https://github.com/meshwatch/meshwatch"})
	writer.Write([]string{"Export Date:", time.Now().Format("2006-01-02 15:04:05")})
	writer.Write([]string{}) // Empty line

	writer.Write([]string{
		"Node ID",
		"Name",
		"Short Name",
		"Hardware",
		"SNR",
		"Battery",
		"Last Heard",
		"Latitude",
		"Longitude",
	})

	// Peers are already ordered most recently heard first
	for _, node := range s.radio.Peers() {
		snr := ""
		if node.SNR != 0 {
			snr = fmt.Sprintf("%.1f", node.SNR)
		}
		battery := ""
		if node.Battery > 0 {
			battery = fmt.Sprintf("%d", node.Battery)
		}
		lastHeard := ""
		if !node.LastHeard.IsZero() {
			lastHeard = node.LastHeard.Format("2006-01-02 15:04:05")
		}
		lat, lon := "", ""
		if node.HasPosition {
			lat = fmt.Sprintf("%.6f", node.Latitude)
			lon = fmt.Sprintf("%.6f", node.Longitude)
		}

		writer.Write([]string{
			node.ID,
			node.DisplayName(),
			node.ShortName,
			node.HwModel,
			snr,
			battery,
			lastHeard,
			lat,
			lon,
		})
	}
}

func (s *Server) handleSaveNodes(w http.ResponseWriter, r *http.Request) {
	s.SaveNodes(w)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"

	"github.com/meshwatch/meshwatch/config"
	"github.com/meshwatch/meshwatch/discover"
	"github.com/meshwatch/meshwatch/radio"
	"github.com/meshwatch/meshwatch/views"
)

// Screen states
const (
	screenWelcome = "welcome"
	screenConnect = "connect"
	screenSession = "session"
)

const (
	connectTimeout = 45 * time.Second
	directTimeout  = 15 * time.Second
	maxLogPackets  = 200
	sweepWorkers   = 50
)

// Model represents the application state
type Model struct {
	currentScreen string
	cfg           config.Config
	width         int
	height        int
	frame         int
	fatalErr      error

	candidates    []discover.Candidate
	selectedIndex int
	connectStatus string
	sweeping      bool
	sweeper       *discover.Sweeper

	client         *radio.Client
	clientClosed   bool
	nodes          []radio.Node
	packets        []radio.Packet
	sessionIndex   int
	tableOffset    int
	showingDetails bool
	filter         views.FilterMode
	composing      bool
	composeRunes   []rune
	cursorRune     int
	directNum      uint32
	directName     string
	status         string

	styles          *views.Styles
	welcomeView     *views.WelcomeView
	connectView     *views.ConnectView
	sessionView     *views.SessionView
	nodeDetailsView *views.NodeDetailsView
}

// Message types
type candidatesMsg []discover.Candidate
type mdnsCandidatesMsg []discover.Candidate
type errMsg struct{ error }
type connectedMsg struct{ client *radio.Client }
type packetMsg radio.Packet
type eventsClosedMsg struct{}
type sweepHitMsg discover.Candidate
type sweepPollMsg struct{}
type sweepDoneMsg struct{}
type statsUpdateMsg struct{}
type welcomeTimerMsg struct{}
type tickMsg time.Time
type refreshTickMsg time.Time

type ackResultMsg struct {
	dest string
	err  error
}

// Animation ticker for the welcome and connect screens
func tick() tea.Cmd {
	return tea.Tick(time.Millisecond*80, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Stats ticker for the sweep progress display
func statsTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(t time.Time) tea.Msg {
		return statsUpdateMsg{}
	})
}

func welcomeTimer() tea.Cmd {
	return tea.Tick(900*time.Millisecond, func(t time.Time) tea.Msg {
		return welcomeTimerMsg{}
	})
}

// The node table ages in place, so redraw it periodically even when
// the mesh is quiet.
func refreshTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

func initialModel(cfg config.Config) *Model {
	styles := views.NewStyles()

	return &Model{
		currentScreen:   screenWelcome,
		cfg:             cfg,
		filter:          views.FilterAll,
		styles:          styles,
		welcomeView:     views.NewWelcomeView(styles, version),
		connectView:     views.NewConnectView(styles),
		sessionView:     views.NewSessionView(styles),
		nodeDetailsView: views.NewNodeDetailsView(styles),
	}
}

// findRadiosCmd lists the radio named by the config plus every serial
// port that looks like one.
func (m *Model) findRadiosCmd() tea.Cmd {
	return func() tea.Msg {
		var found []discover.Candidate
		if target, ok := configuredTarget(m.cfg); ok {
			found = append(found, discover.Candidate{
				Target: target,
				Label:  target.Addr,
				Source: "config",
			})
		}
		return candidatesMsg(append(found, discover.SerialCandidates()...))
	}
}

// browseMDNSCmd browses for radios announcing themselves on the LAN.
// The browse blocks for a few seconds, so it runs separately from the
// serial listing.
func (m *Model) browseMDNSCmd() tea.Cmd {
	return func() tea.Msg {
		return mdnsCandidatesMsg(discover.MDNSCandidates())
	}
}

func (m *Model) connectCmd(target radio.Target) tea.Cmd {
	return func() tea.Msg {
		client, err := radio.NewClient(target)
		if err != nil {
			return errMsg{err}
		}

		log.WithField("target", target.Addr).Debug("Connecting from the TUI")
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := client.Connect(ctx); err != nil {
			client.Close()
			return errMsg{err}
		}
		return connectedMsg{client: client}
	}
}

// readPacketCmd pulls one packet off the radio. Re-issued from Update
// after every packet so the stream keeps flowing.
func (m *Model) readPacketCmd() tea.Cmd {
	return func() tea.Msg {
		packet, ok := <-m.client.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return packetMsg(packet)
	}
}

// readSweepCmd reads exactly one result from the sweeper, or reports
// that nothing is available yet so the UI keeps refreshing.
func (m *Model) readSweepCmd() tea.Cmd {
	return func() tea.Msg {
		if m.sweeper == nil {
			return sweepDoneMsg{}
		}

		resultsChan, doneChan := m.sweeper.Results()
		select {
		case candidate, ok := <-resultsChan:
			if !ok {
				return sweepDoneMsg{}
			}
			log.WithField("addr", candidate.Target.Addr).Debug("Sweep found a radio")
			return sweepHitMsg(candidate)
		case <-doneChan:
			return sweepDoneMsg{}
		default:
			// No update available, check again soon
			time.Sleep(100 * time.Millisecond)
			return sweepPollMsg{}
		}
	}
}

func (m *Model) startSweep() tea.Cmd {
	cidr, err := discover.LocalCIDR()
	if err != nil {
		m.connectStatus = fmt.Sprintf("Sweep failed: %v", err)
		return nil
	}

	m.sweeper = discover.NewSweeper()
	if err := m.sweeper.Sweep(cidr, sweepWorkers); err != nil {
		m.sweeper = nil
		m.connectStatus = fmt.Sprintf("Sweep failed: %v", err)
		return nil
	}

	log.WithField("cidr", cidr).Debug("Sweeping for radios")
	m.sweeping = true
	m.connectStatus = fmt.Sprintf("Sweeping %s for radios...", cidr)
	m.connectView.SetSweeping(true)
	return tea.Batch(m.readSweepCmd(), statsTick())
}

func (m *Model) sendCmd(text string) tea.Cmd {
	client := m.client
	destNum, destName := m.directNum, m.directName
	return func() tea.Msg {
		if destName == "" {
			_, err := client.SendText(radio.BroadcastAddr, 0, text, false)
			return ackResultMsg{err: err}
		}

		ctx, cancel := context.WithTimeout(context.Background(), directTimeout)
		defer cancel()
		err := client.SendTextAndWait(ctx, destNum, 0, text)
		return ackResultMsg{dest: destName, err: err}
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		welcomeTimer(),
		tick(),
		m.findRadiosCmd(),
		m.browseMDNSCmd(),
	)
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case welcomeTimerMsg:
		if m.currentScreen == screenWelcome {
			m.currentScreen = screenConnect
		}
		return m, nil

	case tickMsg:
		m.frame++
		if m.currentScreen == screenSession {
			// The session screen redraws on packets and refreshes
			// instead of an animation timer.
			return m, nil
		}
		return m, tick()

	case refreshTickMsg:
		if m.currentScreen != screenSession || m.client == nil {
			return m, nil
		}
		m.nodes = m.client.Peers()
		m.clampSelection()
		return m, refreshTick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case candidatesMsg:
		m.candidates = appendMissing(msg, m.candidates)
		if m.selectedIndex >= len(m.candidates) {
			m.selectedIndex = max(0, len(m.candidates)-1)
		}
		return m, nil

	case mdnsCandidatesMsg:
		m.candidates = appendMissing(m.candidates, msg)
		return m, nil

	case errMsg:
		m.connectStatus = fmt.Sprintf("Connection failed: %v", msg)
		return m, nil

	case connectedMsg:
		m.client = msg.client
		m.currentScreen = screenSession
		m.connectStatus = ""
		m.status = ""
		m.nodes = m.client.Peers()
		if m.sweeper != nil {
			m.sweeper.Stop()
			m.sweeper = nil
			m.sweeping = false
			m.connectView.SetSweeping(false)
		}
		return m, tea.Batch(m.readPacketCmd(), refreshTick())

	case packetMsg:
		m.packets = append(m.packets, radio.Packet(msg))
		if len(m.packets) > maxLogPackets {
			m.packets = m.packets[len(m.packets)-maxLogPackets:]
		}
		m.nodes = m.client.Peers()
		m.clampSelection()
		return m, m.readPacketCmd()

	case eventsClosedMsg:
		if m.client != nil && !m.clientClosed && m.client.Err() != nil {
			m.fatalErr = m.client.Err()
		}
		m.closeClient()
		return m, tea.Quit

	case sweepHitMsg:
		m.candidates = appendMissing(m.candidates, []discover.Candidate{discover.Candidate(msg)})
		return m, m.readSweepCmd()

	case sweepPollMsg:
		if m.sweeping {
			return m, m.readSweepCmd()
		}
		return m, nil

	case sweepDoneMsg:
		if m.sweeping {
			m.sweeping = false
			m.connectView.SetSweeping(false)
			m.connectStatus = fmt.Sprintf("Sweep finished, %d radios in the list.", len(m.candidates))
		}
		m.sweeper = nil
		return m, nil

	case statsUpdateMsg:
		if m.sweeping && m.sweeper != nil {
			m.connectView.SetWorkerStats(m.sweeper.Stats())
			m.frame++
			return m, statsTick()
		}
		return m, nil

	case ackResultMsg:
		m.status = deliveryStatus(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.composing {
		return m.handleComposeKey(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.closeClient()
		if m.sweeper != nil {
			m.sweeper.Stop()
		}
		return m, tea.Quit

	case "up", "k":
		if m.currentScreen == screenSession {
			if m.sessionIndex > 0 {
				m.sessionIndex--
				if m.sessionIndex < m.tableOffset {
					m.tableOffset = m.sessionIndex
				}
			}
		} else if m.currentScreen == screenConnect && m.selectedIndex > 0 {
			m.selectedIndex--
		}

	case "down", "j":
		if m.currentScreen == screenSession {
			if m.sessionIndex < len(m.nodes)-1 {
				m.sessionIndex++
				if m.sessionIndex >= m.tableOffset+10 {
					m.tableOffset = m.sessionIndex - 9
				}
			}
		} else if m.currentScreen == screenConnect && m.selectedIndex < len(m.candidates)-1 {
			m.selectedIndex++
		}

	case "pgup":
		if m.currentScreen == screenSession {
			m.tableOffset = max(0, m.tableOffset-10)
			m.sessionIndex = max(m.sessionIndex-10, m.tableOffset)
		}

	case "pgdown":
		if m.currentScreen == screenSession {
			nodeCount := len(m.nodes)
			maxOffset := max(0, nodeCount-10)
			m.tableOffset = min(maxOffset, m.tableOffset+10)
			m.sessionIndex = min(m.sessionIndex+10, nodeCount-1)
		}

	case "s":
		if m.currentScreen == screenConnect && !m.sweeping {
			return m, m.startSweep()
		}

	case "r":
		if m.currentScreen == screenConnect {
			m.connectStatus = "Looking for radios..."
			return m, tea.Batch(m.findRadiosCmd(), m.browseMDNSCmd())
		}

	case "c":
		if m.currentScreen == screenSession && !m.showingDetails {
			m.composing = true
			m.composeRunes = m.composeRunes[:0]
			m.cursorRune = 0
			m.status = ""
		}

	case "p":
		if m.currentScreen == screenSession && !m.showingDetails {
			m.filter = m.filter.Next()
		}

	case "enter":
		switch m.currentScreen {
		case screenWelcome:
			m.currentScreen = screenConnect
		case screenConnect:
			if m.selectedIndex < len(m.candidates) {
				candidate := m.candidates[m.selectedIndex]
				m.connectStatus = fmt.Sprintf("Connecting to %s...", candidate.Label)
				return m, m.connectCmd(candidate.Target)
			}
		case screenSession:
			if m.showingDetails {
				m.showingDetails = false
			} else if len(m.nodes) > 0 {
				m.showingDetails = true
			}
		}

	case "esc":
		if m.showingDetails {
			m.showingDetails = false
		}
	}

	return m, nil
}

func (m *Model) handleComposeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.closeClient()
		return m, tea.Quit

	case tea.KeyEscape:
		m.composing = false

	case tea.KeyEnter:
		text := strings.TrimSpace(string(m.composeRunes))
		m.composing = false
		m.composeRunes = m.composeRunes[:0]
		m.cursorRune = 0
		if text == "" {
			return m, nil
		}
		if m.directName != "" {
			m.status = fmt.Sprintf("Waiting for %s to acknowledge...", m.directName)
		} else {
			m.status = "Sending..."
		}
		return m, m.sendCmd(text)

	case tea.KeyTab:
		// Toggle between broadcast and the node selected in the table
		if m.directName != "" {
			m.directName = ""
			m.directNum = 0
		} else if node, ok := m.selectedNode(); ok {
			m.directName = node.DisplayName()
			m.directNum = node.Num
		}

	case tea.KeyLeft:
		if m.cursorRune > 0 {
			m.cursorRune--
		}

	case tea.KeyRight:
		if m.cursorRune < len(m.composeRunes) {
			m.cursorRune++
		}

	case tea.KeyBackspace:
		if m.cursorRune > 0 {
			m.composeRunes = append(m.composeRunes[:m.cursorRune-1], m.composeRunes[m.cursorRune:]...)
			m.cursorRune--
		}

	case tea.KeySpace:
		m.insertRunes([]rune{' '})

	case tea.KeyRunes:
		m.insertRunes(msg.Runes)
	}

	return m, nil
}

func (m *Model) insertRunes(runes []rune) {
	out := make([]rune, 0, len(m.composeRunes)+len(runes))
	out = append(out, m.composeRunes[:m.cursorRune]...)
	out = append(out, runes...)
	out = append(out, m.composeRunes[m.cursorRune:]...)
	m.composeRunes = out
	m.cursorRune += len(runes)
}

func (m *Model) selectedNode() (radio.Node, bool) {
	if len(m.nodes) == 0 || m.sessionIndex >= len(m.nodes) {
		return radio.Node{}, false
	}
	return m.nodes[m.sessionIndex], true
}

func (m *Model) clampSelection() {
	if len(m.nodes) == 0 {
		m.sessionIndex = 0
		m.tableOffset = 0
		return
	}
	if m.sessionIndex >= len(m.nodes) {
		m.sessionIndex = len(m.nodes) - 1
	}
	if m.tableOffset > m.sessionIndex {
		m.tableOffset = m.sessionIndex
	}
}

// closeClient closes the radio at most once. Update runs on a single
// goroutine, so a plain flag is enough.
func (m *Model) closeClient() {
	if m.client != nil && !m.clientClosed {
		m.client.Close()
		m.clientClosed = true
	}
}

// appendMissing adds the extra candidates that are not already in the
// list, so sweep hits and rescans never duplicate an entry.
func appendMissing(list []discover.Candidate, extra []discover.Candidate) []discover.Candidate {
	for _, candidate := range extra {
		seen := false
		for _, have := range list {
			if have.Target.Kind == candidate.Target.Kind && have.Target.Addr == candidate.Target.Addr {
				seen = true
				break
			}
		}
		if !seen {
			list = append(list, candidate)
		}
	}
	return list
}

func deliveryStatus(msg ackResultMsg) string {
	switch {
	case msg.err == nil && msg.dest == "":
		return "Broadcast sent."
	case msg.err == nil:
		return fmt.Sprintf("Delivered to %s.", msg.dest)
	case errors.Is(msg.err, radio.ErrAckTimeout):
		return fmt.Sprintf("No acknowledgement from %s.", msg.dest)
	default:
		return fmt.Sprintf("Send failed: %v", msg.err)
	}
}

// Add helper functions
func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// View implements tea.Model
func (m *Model) View() string {
	switch m.currentScreen {
	case screenWelcome:
		return m.renderWelcomeView()
	case screenConnect:
		return m.renderConnectView()
	case screenSession:
		if m.showingDetails {
			if node, ok := m.selectedNode(); ok {
				m.nodeDetailsView.SetDimensions(m.width, m.height)
				m.nodeDetailsView.SetNode(node)
				return m.nodeDetailsView.Render()
			}
			m.showingDetails = false
		}
		return m.renderSessionView()
	default:
		return "Unknown screen"
	}
}

func (m *Model) renderWelcomeView() string {
	m.welcomeView.SetDimensions(m.width, m.height)
	m.welcomeView.SetFrame(m.frame)
	return m.welcomeView.Render()
}

func (m *Model) renderConnectView() string {
	m.connectView.SetDimensions(m.width, m.height)
	m.connectView.SetCandidates(m.candidates)
	m.connectView.SetSelectedIndex(m.selectedIndex)
	m.connectView.SetStatus(m.connectStatus)
	return m.connectView.Render()
}

func (m *Model) renderSessionView() string {
	m.sessionView.SetDimensions(m.width, m.height)
	m.sessionView.SetInfo(m.client.MyInfo())
	m.sessionView.SetNodes(m.nodes)
	m.sessionView.SetSelectedIndex(m.sessionIndex)
	m.sessionView.SetTableOffset(m.tableOffset)
	m.sessionView.SetPackets(m.packets)
	m.sessionView.SetFilter(m.filter)
	m.sessionView.SetComposing(m.composing)
	m.sessionView.SetComposeText(string(m.composeRunes))
	m.sessionView.SetCursor(len(string(m.composeRunes[:m.cursorRune])))
	m.sessionView.SetDirectTarget(m.directName)
	m.sessionView.SetStatus(m.status)
	return m.sessionView.Render()
}

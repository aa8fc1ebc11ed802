// Package hv implements the fabric's hypervisor command surface: a
// line-oriented TCP control protocol in which each connection picks a
// module by name (nio, atmsw, atm_bridge, frsw, nio_bridge) and issues
// that module's commands, ported from common/hypervisor.h and the
// per-module common/hv_*.c command tables (hv_frsw.c, hv_nio.c,
// hv_atm_bridge.c, hv_nio_bridge.c, and the top-level hv_atmsw.c).
//
// The original's intrusive hypervisor_module_t/hypervisor_cmd_t linked
// lists become plain maps; hypervisor_conn_t's FILE* in/out streams
// become a bufio.Reader/Writer pair over one net.Conn, following the
// "one goroutine reads lines, dispatches, writes replies" shape the
// teacher's own src/rond/main.go commandSocket uses for its line-based
// control socket.
package hv

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	log "github.com/GNS3/dynamips-fabric/pkg/minilog"
)

// Code is a hypervisor status code, ported verbatim from the HSC_*
// constants in common/hypervisor.h.
type Code int

const (
	InfoOK    Code = 100
	InfoMsg   Code = 101
	InfoDebug Code = 102

	ErrParsing    Code = 200
	ErrUnkModule  Code = 201
	ErrUnkCmd     Code = 202
	ErrBadParam   Code = 203
	ErrInvParam   Code = 204
	ErrBinding    Code = 205
	ErrCreate     Code = 206
	ErrDelete     Code = 207
	ErrUnkObj     Code = 208
	ErrStart      Code = 209
	ErrStop       Code = 210
	ErrFile       Code = 211
	ErrBadObj     Code = 212
	ErrRename     Code = 213
	ErrNotFound   Code = 214
	ErrUnspecified Code = 215
)

// maxTokens mirrors HYPERVISOR_MAX_TOKENS: a line with more tokens than
// this is rejected as a parse error rather than silently truncated.
const maxTokens = 16

// Handler is a module command's implementation. argv excludes the
// module and command name tokens, matching hypervisor_cmd_handler's
// (conn, argc, argv[]) contract minus the redundant argc (len(argv)
// suffices in Go). A non-nil returned error is logged but never sent to
// the client directly — handlers are expected to call conn.Reply
// themselves so they control the code and message, exactly as the C
// handlers call hypervisor_send_reply before returning.
type Handler func(conn *Conn, argv []string) error

// Cmd is one registered command, the Go shape of hypervisor_cmd_t.
type Cmd struct {
	Name              string
	MinParam, MaxParam int
	Handler           Handler
}

// Module is a named group of commands, the Go shape of
// hypervisor_module_t. Opt carries whatever shared state a module's
// handlers need (e.g. the registry), mirroring hypervisor_module_t's
// void *opt.
type Module struct {
	Name string
	Opt  any

	mu       sync.RWMutex
	commands map[string]*Cmd
}

// NewModule creates an empty, named module.
func NewModule(name string, opt any) *Module {
	return &Module{Name: name, Opt: opt, commands: make(map[string]*Cmd)}
}

// Register adds cmd to the module, following
// hypervisor_register_cmd_list/_cmd_array's "append to this module's
// table" semantics. Re-registering a name overwrites the prior entry.
func (m *Module) Register(cmd *Cmd) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[cmd.Name] = cmd
}

// RegisterAll registers every command in cmds, the Go analogue of
// hypervisor_register_cmd_array's "walk a NULL-terminated array".
func (m *Module) RegisterAll(cmds []*Cmd) {
	for _, c := range cmds {
		m.Register(c)
	}
}

func (m *Module) find(name string) (*Cmd, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commands[name]
	return c, ok
}

// Server is the hypervisor's module registry plus its TCP accept loop,
// the Go realization of hypervisor_tcp_server and the global module
// list it dispatches against.
type Server struct {
	mu      sync.RWMutex
	modules map[string]*Module

	mu2      sync.Mutex
	listener net.Listener
}

// NewServer creates an empty hypervisor with no modules registered.
func NewServer() *Server {
	return &Server{modules: make(map[string]*Module)}
}

// RegisterModule adds module to the server, the Go analogue of
// hypervisor_register_module followed by hypervisor_register_cmd_array.
// Re-registering a name overwrites the prior module.
func (s *Server) RegisterModule(m *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.Name] = m
}

// FindModule is hypervisor_find_module.
func (s *Server) FindModule(name string) (*Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	return m, ok
}

// ErrServerClosed is returned by Serve after Close stops the listener.
var ErrServerClosed = errors.New("hv: server closed")

// ListenAndServe is hypervisor_tcp_server: it binds addr and accepts
// connections until Close is called, handling each on its own
// goroutine exactly as src/rond's commandSocket spawns one goroutine per
// accepted client.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("hv: listen: %w", err)
	}

	s.mu2.Lock()
	s.listener = l
	s.mu2.Unlock()

	log.Info("hv: listening on %s", addr)

	for {
		c, err := l.Accept()
		if err != nil {
			s.mu2.Lock()
			closed := s.listener == nil
			s.mu2.Unlock()
			if closed {
				return ErrServerClosed
			}
			log.Error("hv: accept: %v", err)
			continue
		}
		go s.serveConn(c)
	}
}

// Close stops accepting new connections. In-flight connections run to
// completion.
func (s *Server) Close() error {
	s.mu2.Lock()
	l := s.listener
	s.listener = nil
	s.mu2.Unlock()

	if l == nil {
		return nil
	}
	return l.Close()
}

// Conn is one client connection: a buffered reader/writer pair over the
// TCP socket plus the module selected by the most recent command line,
// the Go shape of hypervisor_conn_t (tid/active/client_fd/in/out/
// cur_module collapse into goroutine + net.Conn + bufio + curModule).
type Conn struct {
	raw net.Conn
	w   *bufio.Writer

	mu        sync.Mutex
	curModule *Module
}

// CurModule returns the module selected by the connection's last
// command, or nil before any command has run.
func (c *Conn) CurModule() *Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curModule
}

// Reply sends one status line, the Go analogue of hypervisor_send_reply.
// done=false renders a continuation line ("101-message", used for
// HSC_INFO_MSG enumeration lines such as a switch's `list` output);
// done=true renders a terminal line ("100 message") that ends the
// command's reply.
func (c *Conn) Reply(code Code, done bool, format string, args ...any) error {
	sep := byte('-')
	if done {
		sep = ' '
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%d%c%s\r\n", code, sep, msg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.WriteString(line); err != nil {
		return err
	}
	return c.w.Flush()
}

// serveConn reads newline-terminated commands off c until EOF or a
// fatal write error, dispatching each through s.
func (s *Server) serveConn(raw net.Conn) {
	defer raw.Close()

	conn := &Conn{raw: raw, w: bufio.NewWriter(raw)}
	scanner := bufio.NewScanner(raw)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		log.Debug("hv: got line: %q", line)
		if err := s.dispatch(conn, line); err != nil {
			log.Debug("hv: dispatch error: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error("hv: connection read error: %v", err)
	}
}

// dispatch tokenizes line and routes it to the named module's command
// table, mirroring hypervisor's own "module command args..." line shape
// — every line names its module explicitly, the same as the original
// wire protocol.
func (s *Server) dispatch(conn *Conn, line string) error {
	tokens, err := tokenize(line)
	if err != nil {
		return conn.Reply(ErrParsing, true, "parse error: %v", err)
	}
	if len(tokens) == 0 {
		return conn.Reply(ErrParsing, true, "empty command")
	}
	if len(tokens) > maxTokens {
		return conn.Reply(ErrParsing, true, "too many tokens")
	}

	if len(tokens) < 2 {
		return conn.Reply(ErrParsing, true, "no command given")
	}
	modName, cmdName, argv := tokens[0], tokens[1], tokens[2:]

	mod, exists := s.FindModule(modName)
	if !exists {
		return conn.Reply(ErrUnkModule, true, "unknown module '%s'", modName)
	}

	cmd, exists := mod.find(cmdName)
	if !exists {
		return conn.Reply(ErrUnkCmd, true, "unknown command '%s'", cmdName)
	}

	if len(argv) < cmd.MinParam || (cmd.MaxParam >= 0 && len(argv) > cmd.MaxParam) {
		return conn.Reply(ErrBadParam, true,
			"bad number of parameters for command '%s' (expected %d..%d, got %d)",
			cmdName, cmd.MinParam, cmd.MaxParam, len(argv))
	}

	conn.mu.Lock()
	conn.curModule = mod
	conn.mu.Unlock()

	return cmd.Handler(conn, argv)
}

// tokenize splits a command line on whitespace, honoring double-quoted
// substrings so NIO/object names containing spaces survive the wire
// protocol (HYPERVISOR_MAX_TOKENS bounds the result; that check happens
// in dispatch, not here).
func tokenize(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	have := false

	flush := func() {
		if have {
			tokens = append(tokens, cur.String())
			cur.Reset()
			have = false
		}
	}

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			have = true
		case ch == ' ' || ch == '\t':
			if inQuotes {
				cur.WriteByte(ch)
			} else {
				flush()
			}
		default:
			cur.WriteByte(ch)
			have = true
		}
	}
	if inQuotes {
		return nil, errors.New("unterminated quoted token")
	}
	flush()
	return tokens, nil
}

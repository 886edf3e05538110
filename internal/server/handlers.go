// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades GET requests to a WebSocket and starts a chat
// session on the new connection.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("WebSocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	if !s.serveConn(conn, r.RemoteAddr) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running!")
}

// TestPageHandler serves an HTML page that connects to /ws, authenticates
// with a username and room password, and exchanges chat lines.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, testPageHTML)
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>roomchat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        #users { color: #555; margin: 5px 0; }
        input[type="text"], input[type="password"] { padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .private { color: purple; }
        .system { color: gray; font-style: italic; }
    </style>
</head>
<body>
    <h1>roomchat</h1>
    <div>
        <input type="text" id="username" placeholder="Username">
        <input type="password" id="password" placeholder="Room password">
        <button onclick="connect()">Join</button>
    </div>
    <div id="users"></div>
    <div id="messages"></div>
    <div>
        <input type="text" id="messageInput" placeholder="Message, /users, /msg <user> <text>, /quit" size="50" disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');

        function addLine(text, cls) {
            const line = document.createElement('div');
            if (cls) { line.className = cls; }
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function setReady(ready) {
            messageInput.disabled = !ready;
            sendButton.disabled = !ready;
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() {
                ws.send(JSON.stringify({
                    type: 'auth',
                    username: document.getElementById('username').value,
                    password: document.getElementById('password').value
                }));
            };
            ws.onmessage = function(event) {
                const msg = JSON.parse(event.data);
                switch (msg.type) {
                case 'auth_ok': addLine('Joined the room.', 'system'); setReady(true); break;
                case 'auth_fail': addLine('Authentication failed: ' + msg.reason, 'system'); break;
                case 'chat': addLine('[' + msg.timestamp + '] ' + msg.from + ': ' + msg.text); break;
                case 'private': addLine('[' + msg.timestamp + '] (private) ' + msg.from + ': ' + msg.text, 'private'); break;
                case 'system': addLine(msg.message, 'system'); break;
                case 'users': document.getElementById('users').textContent = 'Online: ' + msg.users.join(', '); break;
                }
            };
            ws.onclose = function() {
                addLine('Connection closed', 'system');
                setReady(false);
                ws = null;
            };
        }

        function sendMessage() {
            const text = messageInput.value;
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'chat', text: text }));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`

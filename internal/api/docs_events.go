package api

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream - Sportscaster</title>
  <style>
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 16px;
    }
    nav .brand { font-weight: 600; color: #e6edf3; }
    main { max-width: 880px; margin: 0 auto; padding: 32px 16px 64px; }
    h1 { margin: 0 0 8px; font-size: 26px; color: #e6edf3; }
    h2 { margin: 36px 0 12px; font-size: 18px; color: #e6edf3; border-bottom: 1px solid #21262d; padding-bottom: 8px; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 20px; font-size: 13px; }
    th { text-align: left; padding: 8px 12px; background: #161b22; color: #8b949e; border-bottom: 1px solid #30363d; }
    td { padding: 8px 12px; border-bottom: 1px solid #21262d; vertical-align: top; }
    code, pre {
      font-family: "SFMono-Regular", Consolas, Menlo, monospace;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 4px;
    }
    code { font-size: 12px; padding: 1px 5px; color: #e6edf3; }
    pre { padding: 16px; overflow-x: auto; }
    pre code { border: none; padding: 0; font-size: 13px; }
  </style>
</head>
<body>
<nav>
  <span class="brand">Sportscaster</span>
  <span>/</span>
  <span>Event Stream</span>
  <a href="/docs">REST API Docs</a>
</nav>
<main>
  <h1>Event Stream</h1>
  <p>Every message routed between the commentator endpoints, re-published as Server-Sent Events.</p>

  <h2 id="endpoint">Endpoint</h2>
  <p><code>GET /api/v1/events</code></p>
  <table>
    <thead><tr><th>Query</th><th>Description</th></tr></thead>
    <tbody>
      <tr><td><code>types</code></td><td>Comma-separated message types, e.g. <code>COMMENTARY,STATE_UPDATE</code>. Omit for all.</td></tr>
      <tr><td><code>endpoints</code></td><td>Comma-separated endpoints matched against sender or receiver: <code>background</code>, <code>offscreen</code>, <code>content</code>, <code>sidepanel</code>.</td></tr>
    </tbody>
  </table>

  <h2 id="types">Message Types</h2>
  <table>
    <thead><tr><th>Type</th><th>Route</th><th>Payload</th></tr></thead>
    <tbody>
      <tr><td><code>STATUS</code></td><td>offscreen to sidepanel</td><td><code>{"message"}</code></td></tr>
      <tr><td><code>COMMENTARY</code></td><td>offscreen to sidepanel</td><td><code>{"text","emotion","audio?","annotated_frame?"}</code></td></tr>
      <tr><td><code>STATE_UPDATE</code></td><td>background to sidepanel</td><td><code>{"state":{"active","status","tabId?","videoId?"}}</code></td></tr>
      <tr><td><code>FRAME</code></td><td>content to sidepanel</td><td><code>{"data","timestamp"}</code></td></tr>
      <tr><td><code>ERROR</code></td><td>any to sidepanel</td><td><code>{"message"}</code></td></tr>
      <tr><td><code>CAPTURE_STARTED</code></td><td>background to offscreen</td><td><code>{"streamId","tabId"}</code></td></tr>
      <tr><td><code>MUTE_TAB_VIDEO</code>, <code>UNMUTE_TAB_VIDEO</code></td><td>background to content</td><td>none</td></tr>
    </tbody>
  </table>

  <h2 id="format">Event Format</h2>
  <pre><code>event: COMMENTARY
data: {"from":"offscreen","to":"sidepanel","at":1700000000000,"message":{"type":"COMMENTARY","text":"What a strike!","emotion":"excited"}}
</code></pre>
  <p>The <code>event</code> field is the message type. Each subscriber has a 256 event buffer; a slow client loses events instead of stalling the bus.</p>

  <h2 id="examples">Examples</h2>
  <pre><code>curl -N 'http://127.0.0.1:8190/api/v1/events?types=COMMENTARY,STATE_UPDATE'

const sse = new EventSource('http://127.0.0.1:8190/api/v1/events?endpoints=sidepanel');
sse.addEventListener('COMMENTARY', (e) => {
  const { message } = JSON.parse(e.data);
  console.log(message.emotion, message.text);
});</code></pre>
</main>
</body>
</html>`

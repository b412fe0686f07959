package api

import "github.com/chatfront/chatfront/internal/models"

type loginPage struct {
	Error string
}

type chatPage struct {
	Username   string
	Chat       *models.ChatRecord
	Chats      []models.ChatSummary
	Models     []string
	Selected   string
	FlashLevel string
	FlashMsg   string
}

const loginHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Chat Front - Login</title>
<style>
body{font-family:sans-serif;background:#f4f4f8;display:flex;align-items:center;justify-content:center;height:100vh;margin:0}
form{background:#fff;padding:2rem;border-radius:8px;box-shadow:0 1px 4px rgba(0,0,0,.15)}
input,button{font-size:1rem;padding:.5rem;margin-top:.5rem;width:100%;box-sizing:border-box}
.error{color:#b00020}
</style>
</head>
<body>
<form method="post" action="/login">
  <h1>Chat Front</h1>
  {{if .Error}}<p class="error">{{.Error}}</p>{{end}}
  <input name="username" placeholder="Username" autofocus>
  <button type="submit">Log in</button>
</form>
</body>
</html>
`

const chatHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Chat.Title}}</title>
<style>
body{font-family:sans-serif;margin:0;display:grid;grid-template-columns:280px 1fr;height:100vh}
aside{background:#22252a;color:#eee;overflow-y:auto;padding:1rem}
aside a{color:#eee;text-decoration:none;display:block;padding:.35rem .5rem;border-radius:4px}
aside a.current,aside a:hover{background:#3a3f46}
main{display:flex;flex-direction:column;overflow:hidden}
.messages{flex:1;overflow-y:auto;padding:1rem 2rem}
.msg{max-width:48rem;margin:.5rem 0;padding:.6rem .9rem;border-radius:8px;white-space:pre-wrap}
.msg.user{background:#dbe8ff;margin-left:auto}
.msg.assistant{background:#efefef}
.bar{padding:.75rem 2rem;border-top:1px solid #ddd}
.flash{padding:.5rem 2rem}
.flash.error{color:#b00020}
.flash.success{color:#0a7d2c}
form.inline{display:inline}
</style>
</head>
<body>
<aside>
  <p>{{.Username}} &middot; <a href="/logout" style="display:inline">log out</a></p>
  <p><a href="/new">+ New Chat</a></p>
  {{range .Chats}}
  <a href="/chat/{{.ID}}" {{if eq .ID $.Chat.ID}}class="current"{{end}}>{{.Title}}</a>
  {{end}}
</aside>
<main>
  {{if .FlashMsg}}<div class="flash {{.FlashLevel}}">{{.FlashMsg}}</div>{{end}}
  <div class="bar">
    <strong>{{.Chat.Title}}</strong>
    <form class="inline" method="post" action="/rename/{{.Chat.ID}}">
      <input name="new_title" placeholder="Rename">
      <button type="submit">Rename</button>
    </form>
    <form class="inline" method="post" action="/duplicate/{{.Chat.ID}}">
      <button type="submit">Duplicate</button>
    </form>
    <form class="inline" method="post" action="/delete/{{.Chat.ID}}">
      <button type="submit">Delete</button>
    </form>
    <form class="inline" method="post" action="/select_model">
      <input type="hidden" name="chat_id" value="{{.Chat.ID}}">
      <select name="model">
        {{range .Models}}
        <option value="{{.}}" {{if eq . $.Selected}}selected{{end}}>{{.}}</option>
        {{end}}
      </select>
      <button type="submit">Use model</button>
    </form>
    {{if not .Models}}<em>No models online</em>{{end}}
  </div>
  <div class="messages">
    {{range .Chat.Messages}}
    <div class="msg {{.Role}}">{{.Content}}</div>
    {{end}}
  </div>
  <div class="bar">
    <form method="post" action="/chat/{{.Chat.ID}}" enctype="multipart/form-data">
      <textarea name="prompt" rows="3" cols="80" placeholder="Send a message"></textarea><br>
      <input type="file" name="context_file">
      <button type="submit">Send</button>
    </form>
  </div>
</main>
</body>
</html>
`

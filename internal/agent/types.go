// Package agent fetches the user's upstream agent and builds the welcome panel.
package agent

import (
	"github.com/omahaaigc/agent-chat/internal/domain"
)

// Welcome panel texts.
const (
	DefaultWelcomeMessage = "欢迎使用 Agent 聊天系统，请上传文件生成您的专属 Agent！"
	createTitle           = "Create Your Agent"
	createDescription     = "upload files to create your agent"
	readyTitlePrefix      = "Your Agent: "
	readyDescription      = "You have already created an agent, feel free to chat!"
)

// Upload progress texts shown while an agent is being created.
const (
	MsgUploading     = "正在上传文件到服务器，请稍候..."
	MsgGenerating    = "文件上传成功，正在生成 Agent，请稍候..."
	MsgUploadFailed  = "上传失败："
	MsgUploadAborted = "上传异常："
)

// Welcome is the panel shown above the chat.
type Welcome struct {
	HasAgent    bool          `json:"has_agent"`
	AgentName   string        `json:"agent_name,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Content     string        `json:"content"`
	HTML        string        `json:"html"`
	Typing      domain.Typing `json:"typing"`
}

// CreateRequest is the body sent to CreateAgentprompt.
type CreateRequest struct {
	Filename string `json:"filename"`
}

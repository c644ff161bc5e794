package chat

import "errors"

var (
	// ErrSessionNotFound is returned when a session ID is unknown or expired.
	ErrSessionNotFound = errors.New("chat session not found")
	// ErrSubmissionInProgress is returned when a session already has a
	// pending analysis.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	// ErrNoPendingSubmission is returned by Cancel when nothing is running.
	ErrNoPendingSubmission = errors.New("no pending submission")
	// ErrEmptyPrompt is returned when the submitted text is blank.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrInvalidStock is returned when a stock selection has no code.
	ErrInvalidStock = errors.New("stock code is required")

	errResultNotReady = errors.New("analysis result not ready")
	errCancelled      = errors.New("submission cancelled")
)

// Transcript messages shown to the user.
const (
	MsgSelectStockFirst = "请先选择一只股票后再发送问题。"
	MsgCancelled        = "已取消本次分析。"
	MsgExecuteFailed    = "分析请求失败："
	MsgResultNotReady   = "分析结果尚未就绪，请稍后重试。"

	userPromptPrefix    = "已选择："
	userPromptSeparator = "，"
)

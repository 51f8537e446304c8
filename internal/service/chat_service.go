package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/internal/repository"
	"github.com/prixroxx/RupAI/pkg/llm"
	"github.com/prixroxx/RupAI/pkg/log"

	"github.com/gorilla/websocket"
)

// ChatService 定义了财务问答的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, query string, userID uint, ws *websocket.Conn, shouldStop func() bool) error
	// ResetSession 结束当前会话，下一次提问开启新会话。
	ResetSession(ctx context.Context, userID uint) error
}

type chatService struct {
	retrievalService RetrievalService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retrievalService RetrievalService, llmClient llm.Client, conversationRepo repository.ConversationRepository) ChatService {
	return &chatService{
		retrievalService: retrievalService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
	}
}

// StreamResponse 协调 RAG 流程并流式传输 LLM 响应。
func (s *chatService) StreamResponse(ctx context.Context, query string, userID uint, ws *websocket.Conn, shouldStop func() bool) error {
	// 1. 组装检索上下文。检索服务自身只降级不报错。
	rc := s.retrievalService.Retrieve(ctx, query, userID, RetrieveOptions{})
	if rc.Report.Degraded() {
		log.Warnf("[ChatService] 检索上下文部分降级: %v", rc.Report.Reasons)
	}

	// 2. 构建 system 消息与历史
	systemMsg := s.buildSystemMessage(rc)
	history, err := s.loadHistory(ctx, userID)
	if err != nil {
		log.Errorf("[ChatService] 加载对话历史失败: %v", err)
		history = []model.ChatMessage{}
	}
	messages := s.composeMessages(systemMsg, history, query)

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	// 3. 调用 LLM 客户端以流式传输响应（带生成参数）
	var llmMsgs []llm.Message
	for _, m := range messages {
		llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	if err := s.llmClient.StreamChatMessages(ctx, llmMsgs, s.buildGenerationParams(), interceptor); err != nil {
		return err
	}

	// 4. 发送完成通知，并将对话保存到 Redis
	sendCompletion(ws)
	fullAnswer := answerBuilder.String()
	if len(fullAnswer) > 0 {
		// 使用后台上下文，即使原始请求被取消也要保存已生成的答案
		if err := s.addMessageToConversation(context.Background(), userID, query, fullAnswer); err != nil {
			// 只记录错误，流式响应已经成功
			log.Errorf("[ChatService] 保存对话历史失败: %v", err)
		}
	}
	return nil
}

// ResetSession 重置用户当前会话。
func (s *chatService) ResetSession(ctx context.Context, userID uint) error {
	return s.conversationRepo.ResetConversation(ctx, userID)
}

// buildSystemMessage 把检索包渲染为系统提示：规则 + 包裹符内的引用材料。
// 引用材料按 文档分块 / 财务概要 / 分析洞察 三段组织。
func (s *chatService) buildSystemMessage(rc *model.RetrievalContext) string {
	rules := config.Conf.LLM.Prompt.Rules
	refStart := config.Conf.LLM.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := config.Conf.LLM.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	if rules != "" {
		sys.WriteString(rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")

	hasContent := false
	if len(rc.Chunks) > 0 {
		hasContent = true
		sys.WriteString("## 相关文档片段\n")
		for i, c := range rc.Chunks {
			sys.WriteString(fmt.Sprintf("[%d] (相似度 %.2f) %s\n", i+1, c.Similarity, c.Content))
		}
	}
	if rc.Summary != nil {
		hasContent = true
		sys.WriteString("## 财务概要\n")
		if b, err := json.Marshal(rc.Summary); err == nil {
			sys.Write(b)
			sys.WriteString("\n")
		}
	}
	if len(rc.Insights) > 0 {
		hasContent = true
		sys.WriteString("## 分析洞察\n")
		for _, ins := range rc.Insights {
			sys.WriteString(fmt.Sprintf("- [%s] %s: %s\n", ins.AgentType, ins.Title, ins.Content))
		}
	}
	if !hasContent {
		noRes := config.Conf.LLM.Prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chatService) loadHistory(ctx context.Context, userID uint) ([]model.ChatMessage, error) {
	convID, err := s.conversationRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.conversationRepo.GetConversationHistory(ctx, convID)
}

func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: "system", Content: systemMsg})
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: "user", Content: userInput})
	return msgs
}

// addMessageToConversation 是一个用于管理 Redis 中对话历史的辅助函数。
func (s *chatService) addMessageToConversation(ctx context.Context, userID uint, question, answer string) error {
	conversationID, err := s.conversationRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get or create conversation ID: %w", err)
	}

	history, err := s.conversationRepo.GetConversationHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to get conversation history: %w", err)
	}

	history = append(history, model.ChatMessage{
		Role:      "user",
		Content:   question,
		Timestamp: time.Now(),
	})
	history = append(history, model.ChatMessage{
		Role:      "assistant",
		Content:   answer,
		Timestamp: time.Now(),
	})

	return s.conversationRepo.UpdateConversationHistory(ctx, conversationID, history)
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

func (s *chatService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	if config.Conf.LLM.Generation.Temperature != 0 {
		t := config.Conf.LLM.Generation.Temperature
		gp.Temperature = &t
	}
	if config.Conf.LLM.Generation.TopP != 0 {
		p := config.Conf.LLM.Generation.TopP
		gp.TopP = &p
	}
	if config.Conf.LLM.Generation.MaxTokens != 0 {
		m := config.Conf.LLM.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

//go:build bedrock

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/domain"
	"warden/internal/infra/config"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func newTestBedrock(f *fakeConverse) *BedrockProvider {
	return newBedrockProviderWithClient(config.ProviderConfig{
		Name:  "bedrock",
		Type:  "bedrock",
		Model: "anthropic.claude-3-haiku",
	}, f, newTestLogger())
}

func TestBedrockChatText(t *testing.T) {
	f := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		StopReason: types.StopReasonEndTurn,
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "done"}},
		}},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(20), OutputTokens: aws.Int32(5)},
	}}

	resp, err := newTestBedrock(f).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "sys"},
			{Role: domain.RoleUser, Content: "hello"},
			{Role: domain.RoleUser},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Message.Content)
	assert.Equal(t, domain.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25}, resp.Usage)

	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(f.input.ModelId))
	assert.Len(t, f.input.System, 1)
	assert.Len(t, f.input.Messages, 1, "empty messages are skipped")
	assert.Equal(t, int32(defaultBedrockMaxTokens), aws.ToInt32(f.input.InferenceConfig.MaxTokens))
}

func TestBedrockChatToolUse(t *testing.T) {
	f := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Content: []types.ContentBlock{&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String("tu1"),
				Name:      aws.String("jira_create_issue"),
				Input:     document.NewLazyDocument(map[string]any{"project_key": "OPS"}),
			}}},
		}},
	}}

	resp, err := newTestBedrock(f).Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "file it"}},
		Tools:    []domain.ToolSchema{{Name: "jira_create_issue"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "tu1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "OPS", resp.Message.ToolCalls[0].Arguments["project_key"])
	require.NotNil(t, f.input.ToolConfig)
	assert.Len(t, f.input.ToolConfig.Tools, 1)
}

func TestToBedrockMessageToolResult(t *testing.T) {
	msg := toBedrockMessage(domain.Message{Role: domain.RoleTool, ToolResults: []domain.ToolResult{
		{ToolCallID: "a", Content: "ok"},
		{ToolCallID: "b", Content: "nope", IsError: true},
	}})
	require.NotNil(t, msg)
	assert.Equal(t, types.ConversationRoleUser, msg.Role)
	require.Len(t, msg.Content, 2)
	second := msg.Content[1].(*types.ContentBlockMemberToolResult)
	assert.Equal(t, types.ToolResultStatusError, second.Value.Status)
}

func TestMapBedrockError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"ThrottlingException", domain.ErrRateLimit},
		{"AccessDeniedException", domain.ErrAuthInvalid},
		{"ValidationException", domain.ErrInvalidInput},
		{"ModelErrorException", domain.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := mapBedrockError(&smithy.GenericAPIError{Code: tt.code})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.ErrorIs(t, mapBedrockError(errors.New("x")), domain.ErrProviderError)
	assert.NoError(t, mapBedrockError(nil))
}

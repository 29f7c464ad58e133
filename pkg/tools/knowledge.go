package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/xhad/hrcopilot/internal/types"
)

const knowledgeTopK = 3

// KnowledgeBase exposes retrieval over the HR documents as a tool.
type KnowledgeBase struct {
	retriever types.Retriever
}

func NewKnowledgeBase(retriever types.Retriever) *KnowledgeBase {
	return &KnowledgeBase{retriever: retriever}
}

func (*KnowledgeBase) Name() string { return "search_knowledge_base" }

func (*KnowledgeBase) Description() string {
	return "Searches the HR knowledge base (vacation, payroll, leave and benefits policies) and returns the most relevant passages."
}

func (k *KnowledgeBase) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return encode(Result{Status: StatusError, ErrorMessage: "a query is required"})
	}

	chunks, err := k.retriever.Retrieve(ctx, query, knowledgeTopK)
	if errors.Is(err, types.ErrEmptyCollection) {
		chunks, err = []string{}, nil
	}
	if err != nil {
		return encode(errorResult(err))
	}
	return encode(Result{Status: StatusSuccess, Result: chunks})
}

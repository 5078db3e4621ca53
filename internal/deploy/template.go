package deploy

import (
	"context"
	"fmt"
	"os"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// Compiler turns TEAL source into program bytes. domain.Ledger satisfies it.
type Compiler interface {
	Compile(ctx context.Context, source []byte) ([]byte, error)
}

// TemplateSource locates the TEAL sources and schema of a contract.
type TemplateSource struct {
	Name         string
	ApprovalPath string
	ClearPath    string
	GlobalSchema domain.StateSchema
	LocalSchema  domain.StateSchema
	ExtraPages   uint32
}

// LoadTemplate reads both programs from disk and compiles them through the
// node. It is called once per run; a failure here is a precondition failure.
func LoadTemplate(ctx context.Context, c Compiler, src TemplateSource) (domain.AppTemplate, error) {
	approval, err := compileFile(ctx, c, src.ApprovalPath)
	if err != nil {
		return domain.AppTemplate{}, fmt.Errorf("deploy: approval program: %w", err)
	}
	clear, err := compileFile(ctx, c, src.ClearPath)
	if err != nil {
		return domain.AppTemplate{}, fmt.Errorf("deploy: clear program: %w", err)
	}
	return domain.AppTemplate{
		Name:            src.Name,
		ApprovalProgram: approval,
		ClearProgram:    clear,
		GlobalSchema:    src.GlobalSchema,
		LocalSchema:     src.LocalSchema,
		ExtraPages:      src.ExtraPages,
	}, nil
}

func compileFile(ctx context.Context, c Compiler, path string) ([]byte, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	program, err := c.Compile(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	if len(program) == 0 {
		return nil, fmt.Errorf("compile %s: empty program: %w", path, domain.ErrInvalidInput)
	}
	return program, nil
}

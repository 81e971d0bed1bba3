package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
	promptx "github.com/tanpawarit/Chative-Character-Chat/agent/prompt"
	rolex "github.com/tanpawarit/Chative-Character-Chat/agent/role"
)

// attempt is the graph state of one try at answering a job. Domain
// failures are recorded in err so the graph itself always completes.
type attempt struct {
	job       *job
	role      rolex.Role
	history   []contractx.Message
	persona   *contractx.Persona
	reminders []contractx.Reminder
	memories  []contractx.MemoryRecord
	now       time.Time
	messages  []contractx.Message
	reply     string
	err       error
}

func (d *Dispatcher) resolveScene(ctx context.Context, in *attempt) (*attempt, error) {
	if in == nil || in.job == nil {
		return nil, fmt.Errorf("%w: attempt state is nil", contractx.ErrValidation)
	}
	req := in.job.req
	in.now = d.now().In(contractx.DefaultLocation())
	in.role = d.roles.GetRole(req.RoleID)
	in.history = d.roles.History(in.job.scene.Tag, req.RoleID)
	in.memories = d.roles.Relevant(req.RoleID)

	if d.persona != nil {
		p, err := d.persona.Persona(ctx)
		if err != nil {
			log.Warn().Err(err).Str("request_id", in.job.id).Msg("persona lookup failed")
		} else {
			in.persona = p
		}
	}
	if d.reminders != nil {
		rs, err := d.reminders.Reminders(ctx, in.now)
		if err != nil {
			log.Warn().Err(err).Str("request_id", in.job.id).Msg("reminder lookup failed")
		} else {
			in.reminders = rs
		}
	}
	return in, nil
}

func (d *Dispatcher) assemblePrompt(_ context.Context, in *attempt) (*attempt, error) {
	in.messages = promptx.Build(promptx.Input{
		Scene:     in.job.scene,
		Role:      in.role,
		Request:   in.job.req,
		History:   in.history,
		Persona:   in.persona,
		Reminders: in.reminders,
		Memories:  in.memories,
		Now:       in.now,
	})
	return in, nil
}

func (d *Dispatcher) invokeBackend(ctx context.Context, in *attempt) (*attempt, error) {
	params := contractx.GenerationParams{
		Temperature: in.job.scene.Temperature,
		MaxTokens:   in.job.scene.MaxTokens,
	}
	in.reply, in.err = d.invoker.Call(ctx, in.messages, params)
	return in, nil
}

func finalizeReply(_ context.Context, in *attempt) (*attempt, error) {
	if in.err != nil {
		if !errors.Is(in.err, contractx.ErrConfig) && !errors.Is(in.err, contractx.ErrBackend) {
			in.err = fmt.Errorf("%w: %v", contractx.ErrBackend, in.err)
		}
		return in, nil
	}
	in.reply = strings.TrimSpace(in.reply)
	if in.reply == "" {
		in.err = contractx.ErrEmptyReply
	}
	return in, nil
}

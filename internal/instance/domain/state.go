package domain

// Command is an operator verb against an instance.
type Command string

const (
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandRestart Command = "restart"
	CommandRemove  Command = "remove"
	CommandRetry   Command = "retry"
)

// AuditAction maps a command to its audit log kind. Retry re-runs the
// provisioning workflow and is audited as a CREATE attempt.
func (c Command) AuditAction() Action {
	switch c {
	case CommandStart:
		return ActionStart
	case CommandStop:
		return ActionStop
	case CommandRestart:
		return ActionRestart
	case CommandRemove:
		return ActionRemove
	case CommandRetry:
		return ActionCreate
	default:
		return Action(c)
	}
}

// NextStatus validates a command against the current lifecycle state
// and returns the state the instance enters on success. Remove has no
// successor state: the record is hard-deleted after teardown.
//
//	CREATED -> DEPLOYING -> {RUNNING, ERROR}
//	RUNNING <-> STOPPED (stop/start), RESTART keeps RUNNING
//	RUNNING|STOPPED|ERROR -> removed (terminal)
//	ERROR -> DEPLOYING (retry)
func NextStatus(cmd Command, current Status) (Status, error) {
	switch cmd {
	case CommandStart:
		if current == StatusStopped {
			return StatusRunning, nil
		}
	case CommandStop:
		if current == StatusRunning {
			return StatusStopped, nil
		}
	case CommandRestart:
		if current == StatusRunning {
			return StatusRunning, nil
		}
	case CommandRemove:
		if current == StatusRunning || current == StatusStopped || current == StatusError {
			return current, nil
		}
	case CommandRetry:
		if current == StatusError {
			return StatusDeploying, nil
		}
	}
	return current, ErrInvalidTransition
}

package fabric

// AggregateTypePlanner is the aggregate_type discriminator for Planner
// events (§3 "Planner Events").
const AggregateTypePlanner = "planner"

// NodeKind is a routing hint for the dispatcher (§3).
type NodeKind string

const (
	NodeProcessing    NodeKind = "processing"
	NodeToolCall      NodeKind = "tool_call"
	NodeClarification NodeKind = "clarification"
)

// TaskStatus tracks one task's position in its lifecycle (§3).
type TaskStatus string

const (
	TaskPlanned            TaskStatus = "planned"
	TaskRunning            TaskStatus = "running"
	TaskCompleted          TaskStatus = "completed"
	TaskNeedsClarification TaskStatus = "needs_clarification"
	TaskFailed             TaskStatus = "failed"
)

// AttachmentKind distinguishes the two Attachment variants (§3 "Attachment:
// Link(url) | FileRef(path)").
type AttachmentKind string

const (
	AttachmentLink    AttachmentKind = "link"
	AttachmentFileRef AttachmentKind = "file_ref"
)

// PlanAttachment is one reference attached to a task: a URL (Link) or a
// deferred file path (FileRef).
type PlanAttachment struct {
	Kind  AttachmentKind `json:"kind"`
	Value string         `json:"value"` // url for Link, path for FileRef
}

// Task is one unit of work in the Planner's decomposition (§3 "Planner
// State").
type Task struct {
	ID          int              `json:"id"`
	Description string           `json:"description"`
	Kind        NodeKind         `json:"kind"`
	Status      TaskStatus       `json:"status"`
	Attachments []PlanAttachment `json:"attachments,omitempty"`
	Result      string           `json:"result,omitempty"`
}

// PlannerState is folded from Planner events (§3 "Planner State").
type PlannerState struct {
	Tasks                    []Task
	Cursor                   int
	WaitingForClarification  bool
	PendingClarificationTask int // task id, 0 if none
	NextID                   int
	ContextSummary           string
}

// NewPlannerState returns the zero Planner state.
func NewPlannerState() PlannerState {
	return PlannerState{NextID: 1}
}

// --- Planner Events (§3) ---

type TasksPlannedEvent struct {
	Tasks []Task `json:"tasks"`
}

func (TasksPlannedEvent) EventType() string    { return "planner.tasks_planned" }
func (TasksPlannedEvent) EventVersion() string { return "v1" }

type TaskDispatchedEvent struct {
	TaskID  int    `json:"task_id"`
	Command string `json:"command"`
}

func (TaskDispatchedEvent) EventType() string    { return "planner.task_dispatched" }
func (TaskDispatchedEvent) EventVersion() string { return "v1" }

type TaskStatusUpdatedEvent struct {
	TaskID int        `json:"task_id"`
	Status TaskStatus `json:"status"`
	Result string     `json:"result,omitempty"`
}

func (TaskStatusUpdatedEvent) EventType() string    { return "planner.task_status_updated" }
func (TaskStatusUpdatedEvent) EventVersion() string { return "v1" }

type ClarificationRequestedEvent struct {
	TaskID   int    `json:"task_id"`
	Question string `json:"question"`
}

func (ClarificationRequestedEvent) EventType() string    { return "planner.clarification_requested" }
func (ClarificationRequestedEvent) EventVersion() string { return "v1" }

type ClarificationReceivedEvent struct {
	TaskID int    `json:"task_id"`
	Answer string `json:"answer"`
}

func (ClarificationReceivedEvent) EventType() string    { return "planner.clarification_received" }
func (ClarificationReceivedEvent) EventVersion() string { return "v1" }

type ContextCompactedEvent struct {
	Summary        string `json:"summary"`
	RemovedTaskIDs []int  `json:"removed_task_ids"`
}

func (ContextCompactedEvent) EventType() string    { return "planner.context_compacted" }
func (ContextCompactedEvent) EventVersion() string { return "v1" }

type PlanningCompletedEvent struct {
	Summary string `json:"summary"`
}

func (PlanningCompletedEvent) EventType() string    { return "planner.planning_completed" }
func (PlanningCompletedEvent) EventVersion() string { return "v1" }

// --- Planner Commands (§4.5) ---

// ExecutorOutcome is the union of results an executed task can report back
// to the Planner (§4.5 "HandleExecutorEvent").
type ExecutorOutcome struct {
	TaskCompleted        *struct{ ID int; Result string }
	TaskFailed           *struct{ ID int; Error string }
	NeedsClarification   *struct{ ID int; Question string }
	ClarificationAnswer  *struct{ ID int; Answer string }
}

// PlannerCommand is the union of inputs PlannerHandler.Process accepts.
type PlannerCommand struct {
	Initialize     *InitializeCommand
	ExecutorEvent  *ExecutorOutcome
	Continue       bool
	CompactContext *CompactContextCommand
}

// InitializeCommand seeds the plan from natural-language input (§4.5).
type InitializeCommand struct {
	UserInput   string
	Attachments []PlanAttachment
	Parser      TaskParser // §4.5.1; nil uses the verbatim fallback
}

// CompactContextCommand requests a history reduction bounded by MaxTokens
// (§4.5.2).
type CompactContextCommand struct {
	MaxTokens int
	Compactor ContextCompactor
}

// PlannerHandler implements Handler[PlannerState, PlannerCommand] (§4.5).
type PlannerHandler struct{}

// Fold replays Planner events into PlannerState.
func (PlannerHandler) Fold(events []Envelope) PlannerState {
	st := NewPlannerState()
	byID := make(map[int]int) // task id -> index in st.Tasks

	for _, env := range events {
		switch env.EventType {
		case (TasksPlannedEvent{}).EventType():
			var ev TasksPlannedEvent
			if decodeInto(env.Data, &ev) != nil {
				continue
			}
			st.Tasks = ev.Tasks
			byID = make(map[int]int, len(ev.Tasks))
			maxID := 0
			for i, t := range ev.Tasks {
				byID[t.ID] = i
				if t.ID > maxID {
					maxID = t.ID
				}
			}
			st.NextID = maxID + 1
			st.Cursor = 0
		case (TaskDispatchedEvent{}).EventType():
			var ev TaskDispatchedEvent
			if decodeInto(env.Data, &ev) != nil {
				continue
			}
			if i, ok := byID[ev.TaskID]; ok {
				st.Tasks[i].Status = TaskRunning
			}
		case (TaskStatusUpdatedEvent{}).EventType():
			var ev TaskStatusUpdatedEvent
			if decodeInto(env.Data, &ev) != nil {
				continue
			}
			if i, ok := byID[ev.TaskID]; ok {
				st.Tasks[i].Status = ev.Status
				st.Tasks[i].Result = ev.Result
				if ev.Status == TaskCompleted || ev.Status == TaskFailed {
					advanceCursor(&st, byID)
				}
			}
		case (ClarificationRequestedEvent{}).EventType():
			var ev ClarificationRequestedEvent
			if decodeInto(env.Data, &ev) != nil {
				continue
			}
			if i, ok := byID[ev.TaskID]; ok {
				st.Tasks[i].Status = TaskNeedsClarification
			}
			st.WaitingForClarification = true
			st.PendingClarificationTask = ev.TaskID
		case (ClarificationReceivedEvent{}).EventType():
			var ev ClarificationReceivedEvent
			if decodeInto(env.Data, &ev) != nil {
				continue
			}
			if i, ok := byID[ev.TaskID]; ok {
				st.Tasks[i].Status = TaskPlanned
			}
			st.WaitingForClarification = false
			st.PendingClarificationTask = 0
		case (ContextCompactedEvent{}).EventType():
			var ev ContextCompactedEvent
			if decodeInto(env.Data, &ev) != nil {
				continue
			}
			st.ContextSummary = ev.Summary
		case (PlanningCompletedEvent{}).EventType():
			// Terminal; no further state changes expected.
		}
	}
	return st
}

// advanceCursor moves Cursor to the index of the first task still in
// TaskPlanned status, scanning forward from the current position.
func advanceCursor(st *PlannerState, byID map[int]int) {
	for st.Cursor < len(st.Tasks) && st.Tasks[st.Cursor].Status != TaskPlanned {
		st.Cursor++
	}
}

// pendingTaskIndex returns the index of the next task eligible to dispatch
// (status Planned, scanning from Cursor), or -1 if none remains.
func pendingTaskIndex(st PlannerState) int {
	for i := st.Cursor; i < len(st.Tasks); i++ {
		if st.Tasks[i].Status == TaskPlanned {
			return i
		}
	}
	return -1
}

// terminal reports the condition of §4.5 "Terminal condition": the cursor
// has reached the end of the task list and no task is Running or
// NeedsClarification.
func terminal(st PlannerState) bool {
	for _, t := range st.Tasks {
		if t.Status == TaskRunning || t.Status == TaskNeedsClarification {
			return false
		}
	}
	return pendingTaskIndex(st) == -1
}

// Process implements §4.5 "process behaviour".
func (h PlannerHandler) Process(state PlannerState, command PlannerCommand) ([]Event, error) {
	switch {
	case command.Initialize != nil:
		return h.processInitialize(state, *command.Initialize)
	case command.ExecutorEvent != nil:
		return h.processExecutorEvent(state, *command.ExecutorEvent)
	case command.Continue:
		return h.processContinue(state)
	case command.CompactContext != nil:
		return h.processCompactContext(state, *command.CompactContext)
	default:
		return nil, &HandlerInvariantError{Reason: "empty PlannerCommand"}
	}
}

func (PlannerHandler) processInitialize(state PlannerState, cmd InitializeCommand) ([]Event, error) {
	if len(state.Tasks) > 0 {
		return nil, &HandlerInvariantError{Reason: "planner already initialized"}
	}
	tasks, err := parseTasks(cmd.UserInput, cmd.Attachments, cmd.Parser)
	if err != nil {
		return nil, err
	}
	events := []Event{TasksPlannedEvent{Tasks: tasks}}
	if len(tasks) > 0 {
		events = append(events, TaskDispatchedEvent{TaskID: tasks[0].ID, Command: tasks[0].Description})
	}
	return events, nil
}

func (PlannerHandler) processExecutorEvent(state PlannerState, outcome ExecutorOutcome) ([]Event, error) {
	switch {
	case outcome.TaskCompleted != nil:
		id, result := outcome.TaskCompleted.ID, outcome.TaskCompleted.Result
		events := []Event{TaskStatusUpdatedEvent{TaskID: id, Status: TaskCompleted, Result: result}}
		next := nextAfterResolving(state, id, TaskCompleted)
		if next != nil {
			events = append(events, TaskDispatchedEvent{TaskID: next.ID, Command: next.Description})
		} else if terminalAfterResolving(state, id, TaskCompleted) {
			events = append(events, PlanningCompletedEvent{Summary: state.ContextSummary})
		}
		return events, nil

	case outcome.TaskFailed != nil:
		id, errMsg := outcome.TaskFailed.ID, outcome.TaskFailed.Error
		events := []Event{TaskStatusUpdatedEvent{TaskID: id, Status: TaskFailed, Result: errMsg}}
		next := nextAfterResolving(state, id, TaskFailed)
		if next != nil {
			events = append(events, TaskDispatchedEvent{TaskID: next.ID, Command: next.Description})
		} else if terminalAfterResolving(state, id, TaskFailed) {
			events = append(events, PlanningCompletedEvent{Summary: state.ContextSummary})
		}
		return events, nil

	case outcome.NeedsClarification != nil:
		id, q := outcome.NeedsClarification.ID, outcome.NeedsClarification.Question
		return []Event{ClarificationRequestedEvent{TaskID: id, Question: q}}, nil

	case outcome.ClarificationAnswer != nil:
		id, a := outcome.ClarificationAnswer.ID, outcome.ClarificationAnswer.Answer
		task, ok := findTask(state, id)
		if !ok {
			return nil, &HandlerInvariantError{Reason: "clarification answer for unknown task"}
		}
		return []Event{
			ClarificationReceivedEvent{TaskID: id, Answer: a},
			TaskDispatchedEvent{TaskID: id, Command: task.Description},
		}, nil

	default:
		return nil, &HandlerInvariantError{Reason: "empty ExecutorOutcome"}
	}
}

func (PlannerHandler) processContinue(state PlannerState) ([]Event, error) {
	idx := pendingTaskIndex(state)
	if idx < 0 {
		if terminal(state) {
			return []Event{PlanningCompletedEvent{Summary: state.ContextSummary}}, nil
		}
		return nil, nil
	}
	t := state.Tasks[idx]
	return []Event{TaskDispatchedEvent{TaskID: t.ID, Command: t.Description}}, nil
}

func (PlannerHandler) processCompactContext(state PlannerState, cmd CompactContextCommand) ([]Event, error) {
	summary, removed, err := compactContext(state, cmd.MaxTokens, cmd.Compactor)
	if err != nil {
		return nil, err
	}
	return []Event{ContextCompactedEvent{Summary: summary, RemovedTaskIDs: removed}}, nil
}

func findTask(state PlannerState, id int) (Task, bool) {
	for _, t := range state.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// nextAfterResolving simulates resolving task id to status and returns the
// next dispatchable task, or nil if none remains.
func nextAfterResolving(state PlannerState, id int, status TaskStatus) *Task {
	resolved := applyResolution(state, id, status)
	idx := pendingTaskIndex(resolved)
	if idx < 0 {
		return nil
	}
	t := resolved.Tasks[idx]
	return &t
}

func terminalAfterResolving(state PlannerState, id int, status TaskStatus) bool {
	return terminal(applyResolution(state, id, status))
}

func applyResolution(state PlannerState, id int, status TaskStatus) PlannerState {
	out := state
	out.Tasks = append([]Task(nil), state.Tasks...)
	for i := range out.Tasks {
		if out.Tasks[i].ID == id {
			out.Tasks[i].Status = status
		}
	}
	advanceCursor(&out, nil)
	return out
}

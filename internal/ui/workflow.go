package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// TaskStatus is the state of one workflow row.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskDone
	TaskFailed
	TaskSkipped
)

// Task is one row of a Workflow, usually a pipeline stage.
type Task struct {
	Name    string
	Status  TaskStatus
	Message string
	// Details replace Message once the task is done.
	Details string
}

// rowStyle is how a status is drawn: icon, name style and message style.
type rowStyle struct {
	icon string
	name styleWrapper
	msg  styleWrapper
}

func styleFor(status TaskStatus, frame string) rowStyle {
	switch status {
	case TaskRunning:
		return rowStyle{Secondary.Render(frame), StepRunning, Secondary}
	case TaskDone:
		return rowStyle{GetCheckMark(), StepComplete, Dim}
	case TaskFailed:
		return rowStyle{GetCrossMark(), StepFailed, Error}
	case TaskSkipped:
		return rowStyle{Warning.Render("⊘"), StepSkipped, Warning}
	default:
		return rowStyle{Muted.Render("○"), StepPending, Dim}
	}
}

// Workflow redraws a list of tasks in place while a spinner animates the
// running one. Stop leaves the final state on screen.
type Workflow struct {
	writer io.Writer
	title  string

	mu         sync.Mutex
	tasks      []*Task
	frame      int
	running    bool
	stopChan   chan struct{}
	lastRender string
}

// NewWorkflow creates a workflow; a non-empty title is printed once above
// the tasks.
func NewWorkflow(w io.Writer, title string) *Workflow {
	return &Workflow{writer: w, title: title, stopChan: make(chan struct{})}
}

// AddTask appends a pending task and returns its index.
func (wf *Workflow) AddTask(name string) int {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.tasks = append(wf.tasks, &Task{Name: name})
	return len(wf.tasks) - 1
}

func (wf *Workflow) set(idx int, fn func(t *Task)) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if idx >= 0 && idx < len(wf.tasks) {
		fn(wf.tasks[idx])
	}
}

func (wf *Workflow) StartTask(idx int, message string) {
	wf.set(idx, func(t *Task) { t.Status, t.Message = TaskRunning, message })
}

func (wf *Workflow) CompleteTask(idx int, details string) {
	wf.set(idx, func(t *Task) { t.Status, t.Details = TaskDone, details })
}

func (wf *Workflow) FailTask(idx int, errMsg string) {
	wf.set(idx, func(t *Task) { t.Status, t.Message = TaskFailed, errMsg })
}

func (wf *Workflow) SkipTask(idx int, reason string) {
	wf.set(idx, func(t *Task) { t.Status, t.Message = TaskSkipped, reason })
}

// Start begins the animation. Calling it twice is a no-op.
func (wf *Workflow) Start() {
	wf.mu.Lock()
	if wf.running {
		wf.mu.Unlock()
		return
	}
	wf.running = true
	if wf.title != "" {
		fmt.Fprintln(wf.writer, Dim.Render(wf.title))
	}
	wf.mu.Unlock()

	go func() {
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-wf.stopChan:
				return
			case <-ticker.C:
				wf.draw(false)
			}
		}
	}()
}

// Stop ends the animation and prints the final state. Calling it twice is
// a no-op.
func (wf *Workflow) Stop() {
	wf.mu.Lock()
	if !wf.running {
		wf.mu.Unlock()
		return
	}
	wf.running = false
	wf.mu.Unlock()

	close(wf.stopChan)
	wf.draw(true)
}

func (wf *Workflow) draw(final bool) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	var b strings.Builder
	if wf.lastRender != "" {
		// Move up and clear every line of the previous frame.
		b.WriteString(strings.Repeat("\033[A\033[K", strings.Count(wf.lastRender, "\n")+1))
	}
	if !final {
		wf.frame = (wf.frame + 1) % len(spinnerFrames)
	}
	for _, t := range wf.tasks {
		b.WriteString(wf.row(t, final))
		b.WriteString("\n")
	}

	out := b.String()
	if final {
		wf.lastRender = ""
	} else {
		wf.lastRender = strings.TrimSuffix(out, "\n")
	}
	fmt.Fprint(wf.writer, out)
}

func (wf *Workflow) row(t *Task, final bool) string {
	status := t.Status
	if final && status == TaskRunning {
		status = TaskPending
	}
	st := styleFor(status, spinnerFrames[wf.frame])
	line := st.icon + " " + st.name.Render(t.Name)

	if !final {
		if t.Message != "" {
			line += " " + st.msg.Render(t.Message)
		}
		return line
	}
	switch {
	case status == TaskDone && t.Details != "":
		line += " " + st.msg.Render("→ "+t.Details)
	case (status == TaskFailed || status == TaskSkipped) && t.Message != "":
		line += " " + st.msg.Render("→ "+t.Message)
	}
	return line
}

// SimpleSpinner is a one-line spinner for a single operation.
type SimpleSpinner struct {
	writer io.Writer

	mu      sync.Mutex
	message string
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewSimpleSpinner(w io.Writer, message string) *SimpleSpinner {
	return &SimpleSpinner{
		writer:  w,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *SimpleSpinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()
		for frame := 0; ; frame = (frame + 1) % len(spinnerFrames) {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				msg := s.message
				s.mu.Unlock()
				fmt.Fprintf(s.writer, "\r\033[K%s %s", Secondary.Render(spinnerFrames[frame]), msg)
			}
		}
	}()
}

// Stop clears the spinner line and prints the outcome.
func (s *SimpleSpinner) Stop(success bool, finalMessage string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	fmt.Fprint(s.writer, "\r\033[K")
	if success {
		fmt.Fprintln(s.writer, FormatStatus("success", finalMessage))
		return
	}
	fmt.Fprintln(s.writer, FormatStatus("error", Error.Render(finalMessage)))
}

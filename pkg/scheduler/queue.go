package scheduler

import "fmt"

// jobQueue is a min-heap on (priority rank, submission order).
type jobQueue []*entry

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	ri, rj := q[i].job.Priority.rank(), q[j].job.Priority.rank()
	if ri != rj {
		return ri < rj
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("job panicked: %v", e.value) }

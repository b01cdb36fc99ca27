package scheduler

import "context"

// Job — задача, которую планировщик выполняет на каждом цикле.
type Job interface {
	Name() string
	Run(ctx context.Context) (processed int, err error)
}

// Registry хранит задачи в порядке регистрации.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Register(job)
	}
	return r
}

func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

package entity

import "context"

// Invalid returns a Repo whose every method fails with err. Stores return it
// from Entity when given a name they cannot serve.
func Invalid(name string, err error) Repo {
	return invalidRepo{name: name, err: err}
}

type invalidRepo struct {
	name string
	err  error
}

func (r invalidRepo) Name() string { return r.name }

func (r invalidRepo) List(context.Context, ListOptions) ([]Record, error) {
	return nil, r.err
}

func (r invalidRepo) Filter(context.Context, Criteria, ListOptions) ([]Record, error) {
	return nil, r.err
}

func (r invalidRepo) Get(context.Context, string) (Record, error) {
	return nil, r.err
}

func (r invalidRepo) Create(context.Context, Record) (Record, error) {
	return nil, r.err
}

func (r invalidRepo) Update(context.Context, string, Record) (Record, error) {
	return nil, r.err
}

func (r invalidRepo) Delete(context.Context, string) (Record, error) {
	return nil, r.err
}

func (r invalidRepo) CreateMany(context.Context, []Record) ([]Record, error) {
	return nil, r.err
}

func (r invalidRepo) Search(context.Context, string, string) ([]Record, error) {
	return nil, r.err
}

func (r invalidRepo) Count(context.Context, Criteria) (int, error) {
	return 0, r.err
}

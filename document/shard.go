package document

// ShardResolver maps an operation on a collection to the index of the
// connection group that serves it.
type ShardResolver interface {
	Resolve(collection string) int
}

type ShardResolverFunc func(collection string) int

func (f ShardResolverFunc) Resolve(collection string) int {
	return f(collection)
}

// SingleShard routes everything to the first group.
type SingleShard struct{}

func (SingleShard) Resolve(string) int {
	return 0
}

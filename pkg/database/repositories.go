// Repositories - Convenience wrapper for all database repositories.
// Provides a single point of access to all repository types.

package database

// Repositories holds all repository instances.
type Repositories struct {
	Blocks         *BlockRepository
	AuthorizedKeys *AuthorizedKeyRepository
	OffChain       *OffChainRepository
	Index          *IndexRepository
	Sequence       *SequenceRepository
}

// NewRepositories creates all repositories with the given client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Blocks:         NewBlockRepository(client),
		AuthorizedKeys: NewAuthorizedKeyRepository(client),
		OffChain:       NewOffChainRepository(client),
		Index:          NewIndexRepository(client),
		Sequence:       NewSequenceRepository(client),
	}
}

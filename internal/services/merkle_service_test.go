package services

import (
	"testing"

	"privpool-backend/internal/merkle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.indexer.addDeposit(randomCommitment(i), uint64(200+i))
	}

	incremental, err := env.merkle.GetRoot(env.ctx, env.net, env.binding, false)
	require.NoError(t, err)
	rebuilt, err := env.merkle.GetRoot(env.ctx, env.net, env.binding, true)
	require.NoError(t, err)
	assert.Equal(t, incremental, rebuilt)

	reference := merkle.New(merkle.DefaultLevels)
	for i := 0; i < 5; i++ {
		require.NoError(t, reference.InsertHex(randomCommitment(i)))
	}
	assert.Equal(t, reference.RootHex(), incremental)
}

func TestGenerateProof(t *testing.T) {
	env := newTestEnv(t)
	n := env.note(0)
	env.indexer.addDeposit(randomCommitment(0), 200)
	env.indexer.addDeposit(n.CommitmentHex, 201)

	proof, err := env.merkle.GenerateProof(env.ctx, env.net, env.binding, n)
	require.NoError(t, err)
	assert.Equal(t, 1, proof.LeafIndex)
	assert.Len(t, proof.PathElements, merkle.DefaultLevels)
	assert.Len(t, proof.PathIndices, merkle.DefaultLevels)

	ok, err := merkle.Verify(n.CommitmentHex, proof)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenerateProofRetriesOnceWithForcedSync(t *testing.T) {
	env := newTestEnv(t)
	n := env.note(0)
	env.indexer.addDeposit(n.CommitmentHex, 200)
	env.pools.accept = func(root string, call int) bool { return call >= 2 }

	proof, err := env.merkle.GenerateProof(env.ctx, env.net, env.binding, n)
	require.NoError(t, err)
	assert.Equal(t, 0, proof.LeafIndex)
	assert.Equal(t, 2, env.pools.calls)
}

func TestGenerateProofGivesUpAfterOneRetry(t *testing.T) {
	env := newTestEnv(t)
	n := env.note(0)
	env.indexer.addDeposit(n.CommitmentHex, 200)
	env.pools.accept = func(string, int) bool { return false }

	_, err := env.merkle.GenerateProof(env.ctx, env.net, env.binding, n)
	assert.ErrorIs(t, err, ErrTreeCorrupted)
	assert.Equal(t, 2, env.pools.calls)
}

func TestGenerateProofMissingDeposit(t *testing.T) {
	env := newTestEnv(t)
	env.indexer.addDeposit(randomCommitment(0), 200)

	_, err := env.merkle.GenerateProof(env.ctx, env.net, env.binding, env.note(0))
	assert.ErrorIs(t, err, ErrDepositNotInTree)
	assert.Equal(t, 1, env.pools.calls)
}

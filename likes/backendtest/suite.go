// Package backendtest holds the behaviour every likes.Backend must show.
// Implementations embed Suite, set Backend in SetupTest and run it with
// suite.Run.
package backendtest

import (
	"context"

	"x-clone/likes"

	"github.com/stretchr/testify/suite"
)

var ctx = context.Background()

type Suite struct {
	suite.Suite

	Backend likes.Backend
}

func user(id string) likes.Principal {
	return likes.Principal{UserId: id, DisplayName: id, Handle: "@" + id}
}

func post(author, text string, timestamp int64) map[string]any {
	return map[string]any{
		"authorId":   author,
		"authorName": author,
		"handle":     "@" + author,
		"text":       text,
		"likeCount":  int64(0),
		"timestamp":  timestamp,
	}
}

func (s *Suite) requireInt(want int64, v any) {
	n, ok := likes.AsInt64(v)
	s.Require().True(ok, "%v is %T", v, v)
	s.Require().Equal(want, n)
}

func (s *Suite) TestSetAndGetRecord() {
	alice := user("alice")
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.PostPath("p1"), post("alice", "hello", 100)))

	v, found, err := s.Backend.Get(ctx, user("bob"), likes.PostPath("p1"))
	s.Require().NoError(err)
	s.Require().True(found)
	rec, ok := v.(map[string]any)
	s.Require().True(ok, "record is %T", v)
	s.Require().Equal("hello", rec["text"])
	s.Require().Equal("alice", rec["authorId"])
	s.requireInt(100, rec["timestamp"])

	v, found, err = s.Backend.Get(ctx, user("bob"), likes.LikeCountPath("p1"))
	s.Require().NoError(err)
	s.Require().True(found)
	s.requireInt(0, v)
}

func (s *Suite) TestGetMissing() {
	alice := user("alice")
	for _, path := range []string{
		likes.PostsPath,
		likes.PostPath("nope"),
		likes.LikeCountPath("nope"),
		likes.LikeSetPath("alice"),
		likes.LikeMarkPath("alice", "nope"),
	} {
		v, found, err := s.Backend.Get(ctx, alice, path)
		s.Require().NoError(err, path)
		s.Require().False(found, path)
		s.Require().Nil(v, path)
	}
}

func (s *Suite) TestListSortedByKey() {
	s.Require().NoError(s.Backend.Set(ctx, user("bob"), likes.PostPath("b"), post("bob", "second", 200)))
	s.Require().NoError(s.Backend.Set(ctx, user("alice"), likes.PostPath("a"), post("alice", "first", 100)))

	records, err := s.Backend.List(ctx, user("carol"), likes.PostsPath)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Require().Equal("a", records[0].Key)
	s.Require().Equal("b", records[1].Key)
	s.Require().Equal("second", records[1].Value.(map[string]any)["text"])

	_, err = s.Backend.List(ctx, user("carol"), likes.PostPath("a"))
	s.Require().ErrorIs(err, likes.ErrInvalidPath)
}

func (s *Suite) TestLikeMarks() {
	alice := user("alice")
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.LikeMarkPath("alice", "p1"), true))
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.LikeMarkPath("alice", "p2"), true))

	v, found, err := s.Backend.Get(ctx, alice, likes.LikeSetPath("alice"))
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal(map[string]any{"p1": true, "p2": true}, v)

	s.Require().NoError(s.Backend.Remove(ctx, alice, likes.LikeMarkPath("alice", "p1")))
	v, found, err = s.Backend.Get(ctx, alice, likes.LikeSetPath("alice"))
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal(map[string]any{"p2": true}, v)

	s.Require().NoError(s.Backend.Remove(ctx, alice, likes.LikeMarkPath("alice", "p2")))
	_, found, err = s.Backend.Get(ctx, alice, likes.LikeSetPath("alice"))
	s.Require().NoError(err)
	s.Require().False(found)
}

func (s *Suite) TestRulesAreEnforced() {
	alice := user("alice")
	s.Require().NoError(s.Backend.Set(ctx, user("bob"), likes.LikeMarkPath("bob", "p1"), true))

	_, _, err := s.Backend.Get(ctx, alice, likes.LikeSetPath("bob"))
	s.Require().ErrorIs(err, likes.ErrPermissionDenied)

	err = s.Backend.Set(ctx, alice, likes.LikeMarkPath("bob", "p1"), false)
	s.Require().ErrorIs(err, likes.ErrPermissionDenied)

	err = s.Backend.Set(ctx, alice, likes.PostPath("p1"), post("bob", "forged", 1))
	s.Require().ErrorIs(err, likes.ErrPermissionDenied)

	_, err = s.Backend.List(ctx, likes.Principal{}, likes.PostsPath)
	s.Require().ErrorIs(err, likes.ErrPermissionDenied)

	_, found, err := s.Backend.Get(ctx, user("bob"), likes.LikeMarkPath("bob", "p1"))
	s.Require().NoError(err)
	s.Require().True(found)
}

func (s *Suite) TestPostCannotBeTakenOver() {
	alice, bob := user("alice"), user("bob")
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.PostPath("p1"), post("alice", "mine", 1)))

	err := s.Backend.Set(ctx, bob, likes.PostPath("p1"), post("bob", "stolen", 2))
	s.Require().ErrorIs(err, likes.ErrPermissionDenied)

	err = s.Backend.Update(ctx, bob, map[string]any{
		likes.PostPath("p1"):            post("bob", "stolen", 2),
		likes.LikeMarkPath("bob", "p1"): true,
	})
	s.Require().ErrorIs(err, likes.ErrPermissionDenied)
	_, found, err := s.Backend.Get(ctx, bob, likes.LikeMarkPath("bob", "p1"))
	s.Require().NoError(err)
	s.Require().False(found)

	v, _, err := s.Backend.Get(ctx, bob, likes.PostPath("p1"))
	s.Require().NoError(err)
	s.Require().Equal("mine", v.(map[string]any)["text"])
	s.Require().Equal("alice", v.(map[string]any)["authorId"])

	// the author may still replace it
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.PostPath("p1"), post("alice", "edited", 3)))
	v, _, err = s.Backend.Get(ctx, bob, likes.PostPath("p1"))
	s.Require().NoError(err)
	s.Require().Equal("edited", v.(map[string]any)["text"])
}

func (s *Suite) TestUpdateAppliesAllPaths() {
	alice := user("alice")
	s.Require().NoError(s.Backend.Set(ctx, user("bob"), likes.PostPath("p1"), post("bob", "hi", 1)))

	err := s.Backend.Update(ctx, alice, map[string]any{
		likes.LikeMarkPath("alice", "p1"): true,
		likes.LikeCountPath("p1"):         int64(1),
	})
	s.Require().NoError(err)

	v, _, err := s.Backend.Get(ctx, alice, likes.LikeCountPath("p1"))
	s.Require().NoError(err)
	s.requireInt(1, v)
	v, _, err = s.Backend.Get(ctx, alice, likes.LikeMarkPath("alice", "p1"))
	s.Require().NoError(err)
	s.Require().Equal(true, v)

	// the other fields of the post are untouched
	v, _, err = s.Backend.Get(ctx, alice, likes.PostPath("p1"))
	s.Require().NoError(err)
	s.Require().Equal("hi", v.(map[string]any)["text"])
}

func (s *Suite) TestUpdateIsAllOrNothing() {
	alice := user("alice")
	s.Require().NoError(s.Backend.Set(ctx, user("bob"), likes.PostPath("p1"), post("bob", "hi", 1)))

	err := s.Backend.Update(ctx, alice, map[string]any{
		likes.LikeMarkPath("alice", "p1"): true,
		likes.LikeCountPath("p1"):         int64(1),
		likes.LikeMarkPath("bob", "p1"):   true,
	})
	s.Require().ErrorIs(err, likes.ErrPermissionDenied)

	_, found, err := s.Backend.Get(ctx, alice, likes.LikeMarkPath("alice", "p1"))
	s.Require().NoError(err)
	s.Require().False(found)
	v, _, err := s.Backend.Get(ctx, alice, likes.LikeCountPath("p1"))
	s.Require().NoError(err)
	s.requireInt(0, v)
}

func (s *Suite) TestIncrement() {
	alice := user("alice")
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.PostPath("p1"), post("alice", "hi", 1)))

	s.Require().NoError(s.Backend.Set(ctx, alice, likes.LikeCountPath("p1"), likes.Increment(1)))
	s.Require().NoError(s.Backend.Set(ctx, user("bob"), likes.LikeCountPath("p1"), likes.Increment(1)))
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.LikeCountPath("p1"), likes.Increment(-1)))

	v, _, err := s.Backend.Get(ctx, alice, likes.LikeCountPath("p1"))
	s.Require().NoError(err)
	s.requireInt(1, v)

	// a missing counter starts from zero
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.LikeCountPath("p2"), likes.Increment(3)))
	v, found, err := s.Backend.Get(ctx, alice, likes.LikeCountPath("p2"))
	s.Require().NoError(err)
	s.Require().True(found)
	s.requireInt(3, v)
}

func (s *Suite) TestRemoveRecord() {
	alice := user("alice")
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.LikeMarkPath("alice", "p1"), true))
	s.Require().NoError(s.Backend.Set(ctx, alice, likes.LikeSetPath("alice"), nil))

	_, found, err := s.Backend.Get(ctx, alice, likes.LikeSetPath("alice"))
	s.Require().NoError(err)
	s.Require().False(found)
}

func (s *Suite) TestIsReady() {
	s.Require().True(s.Backend.IsReady(ctx))
}

package mongoimpl

import (
	"context"
	"testing"
	"time"

	"x-clone/likes"
	"x-clone/likes/backendtest"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ctx = context.Background()

const (
	testMongoURL = "mongodb://localhost:27017"
	testDBName   = "xclone_test"
)

// Needs a replica set member on localhost, e.g.
// docker run -p 27017:27017 mongo:7 --replSet rs0 followed by rs.initiate().
func TestMongoBackend(t *testing.T) {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	client, err := mongo.Connect(probeCtx, options.Client().ApplyURI(testMongoURL).SetServerSelectionTimeout(2*time.Second))
	if err != nil {
		t.Skipf("mongo client: %v", err)
	}
	defer client.Disconnect(ctx)

	var hello bson.M
	if err := client.Database("admin").RunCommand(probeCtx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		t.Skipf("mongo not reachable at %s: %v", testMongoURL, err)
	}
	if _, ok := hello["setName"]; !ok {
		t.Skip("mongo is not a replica set member, transactions are unavailable")
	}

	suite.Run(t, &MongoBackendSuite{mongoClient: client})
}

type MongoBackendSuite struct {
	backendtest.Suite

	mongoClient *mongo.Client
	backend     *MongoBackend
}

func (s *MongoBackendSuite) SetupTest() {
	s.Require().NoError(s.mongoClient.Database(testDBName).Drop(ctx))
	backend, err := NewMongoBackend(ctx, testMongoURL, testDBName)
	s.Require().NoError(err)
	s.backend = backend
	s.Backend = backend
}

func (s *MongoBackendSuite) TearDownTest() {
	if s.backend != nil {
		s.Require().NoError(s.backend.Close(ctx))
	}
}

func (s *MongoBackendSuite) TestPostsAreDocuments() {
	alice := likes.Principal{UserId: "alice"}
	s.Require().NoError(s.backend.Set(ctx, alice, likes.PostPath("p1"), map[string]any{
		"authorId":  "alice",
		"text":      "hello",
		"likeCount": int64(2),
		"timestamp": int64(100),
	}))

	var doc bson.M
	err := s.mongoClient.Database(testDBName).Collection(likes.PostsPath).
		FindOne(ctx, bson.M{"_id": "p1"}).Decode(&doc)
	s.Require().NoError(err)
	s.Require().Equal("hello", doc["text"])
	s.Require().Equal(int64(2), doc["likeCount"])
}

func (s *MongoBackendSuite) TestTimestampIndex() {
	cursor, err := s.mongoClient.Database(testDBName).Collection(likes.PostsPath).Indexes().List(ctx)
	s.Require().NoError(err)
	var indexes []bson.M
	s.Require().NoError(cursor.All(ctx, &indexes))

	var names []string
	for _, idx := range indexes {
		name, _ := idx["name"].(string)
		names = append(names, name)
	}
	s.Require().Contains(names, "timestamp_-1")
}

func (s *MongoBackendSuite) TestFieldRemovalKeepsOtherFields() {
	alice := likes.Principal{UserId: "alice"}
	s.Require().NoError(s.backend.Set(ctx, alice, likes.LikeMarkPath("alice", "p1"), true))
	s.Require().NoError(s.backend.Set(ctx, alice, likes.LikeMarkPath("alice", "p2"), true))
	s.Require().NoError(s.backend.Remove(ctx, alice, likes.LikeMarkPath("alice", "p1")))

	v, found, err := s.backend.Get(ctx, alice, likes.LikeSetPath("alice"))
	s.Require().NoError(err)
	s.Require().True(found)
	s.Require().Equal(map[string]any{"p2": true}, v)
}

package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/flowpick/pkg/api"
)

// MongoStore implements FlowStore and GraphStore on MongoDB.
//
// Collections: flows, states, transitions, plus a counters collection used
// to hand out sequential int64 IDs so the ID space matches the SQL
// backends.
type MongoStore struct {
	db *mongo.Database
}

var _ api.FlowStore = (*MongoStore)(nil)

var _ api.GraphStore = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed store. dbName defaults to
// "flowpick".
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "flowpick"
	}
	return &MongoStore{db: client.Database(dbName)}
}

func (s *MongoStore) flows() *mongo.Collection       { return s.db.Collection("flows") }
func (s *MongoStore) states() *mongo.Collection      { return s.db.Collection("states") }
func (s *MongoStore) transitions() *mongo.Collection { return s.db.Collection("transitions") }

type mongoFlowDoc struct {
	ID                int64      `bson:"_id"`
	SubjectType       string     `bson:"subject_type"`
	SubjectScope      *string    `bson:"subject_scope,omitempty"`
	SubjectCollection *string    `bson:"subject_collection,omitempty"`
	Version           int        `bson:"version"`
	IsDefault         bool       `bson:"is_default"`
	Active            bool       `bson:"active"`
	ActiveFrom        *time.Time `bson:"active_from,omitempty"`
	ActiveTo          *time.Time `bson:"active_to,omitempty"`
	Channel           *string    `bson:"channel,omitempty"`
	Environment       *string    `bson:"environment,omitempty"`
	Ordering          int        `bson:"ordering"`
	RolloutPct        *int       `bson:"rollout_pct,omitempty"`
	Lifecycle         string     `bson:"lifecycle"`
}

type mongoStateDoc struct {
	ID         int64  `bson:"_id"`
	FlowID     int64  `bson:"flow_id"`
	Type       string `bson:"type"`
	Status     string `bson:"status"`
	Color      string `bson:"color"`
	X          int    `bson:"x"`
	Y          int    `bson:"y"`
	IsTerminal bool   `bson:"is_terminal"`
}

type mongoTransitionDoc struct {
	ID     int64         `bson:"_id"`
	FlowID int64         `bson:"flow_id"`
	From   *int64        `bson:"from_state,omitempty"`
	To     *int64        `bson:"to_state,omitempty"`
	Slug   *string       `bson:"slug,omitempty"`
	Tasks  []api.TaskRef `bson:"tasks,omitempty"`
}

func flowToDoc(f *api.Flow) mongoFlowDoc {
	return mongoFlowDoc{
		ID:                f.ID,
		SubjectType:       f.SubjectType,
		SubjectScope:      f.SubjectScope,
		SubjectCollection: f.SubjectCollection,
		Version:           f.Version,
		IsDefault:         f.IsDefault,
		Active:            f.Active,
		ActiveFrom:        f.ActiveFrom,
		ActiveTo:          f.ActiveTo,
		Channel:           f.Channel,
		Environment:       f.Environment,
		Ordering:          f.Ordering,
		RolloutPct:        f.RolloutPct,
		Lifecycle:         string(f.Lifecycle),
	}
}

func docToFlow(d mongoFlowDoc) *api.Flow {
	return &api.Flow{
		ID:                d.ID,
		SubjectType:       d.SubjectType,
		SubjectScope:      d.SubjectScope,
		SubjectCollection: d.SubjectCollection,
		Version:           d.Version,
		IsDefault:         d.IsDefault,
		Active:            d.Active,
		ActiveFrom:        d.ActiveFrom,
		ActiveTo:          d.ActiveTo,
		Channel:           d.Channel,
		Environment:       d.Environment,
		Ordering:          d.Ordering,
		RolloutPct:        d.RolloutPct,
		Lifecycle:         api.Lifecycle(d.Lifecycle),
	}
}

// nextID hands out the next sequential ID for the given kind.
func (s *MongoStore) nextID(ctx context.Context, kind string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection("counters").FindOneAndUpdate(
		ctx,
		bson.M{"_id": kind},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (s *MongoStore) CreateFlow(ctx context.Context, f *api.Flow) error {
	id, err := s.nextID(ctx, "flows")
	if err != nil {
		return err
	}
	f.ID = id
	if f.Lifecycle == "" {
		f.Lifecycle = api.LifecycleActive
	}

	_, err = s.flows().InsertOne(ctx, flowToDoc(f))
	return err
}

func (s *MongoStore) GetFlow(ctx context.Context, id int64) (*api.Flow, error) {
	var doc mongoFlowDoc
	err := s.flows().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	return docToFlow(doc), nil
}

func (s *MongoStore) ListFlows(ctx context.Context, q api.FlowQuery) ([]*api.Flow, error) {
	// Push the two cheap equality filters down; FlowQuery.Matches applies
	// the rest so semantics stay identical across backends.
	cur, err := s.flows().Find(ctx, bson.M{
		"subject_type": q.SubjectType,
		"lifecycle":    string(api.LifecycleActive),
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var flows []*api.Flow
	for cur.Next(ctx) {
		var doc mongoFlowDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		f := docToFlow(doc)
		if q.Matches(f) {
			flows = append(flows, f)
		}
	}
	return flows, cur.Err()
}

func (s *MongoStore) UpdateFlow(ctx context.Context, f *api.Flow) error {
	res, err := s.flows().ReplaceOne(ctx, bson.M{"_id": f.ID}, flowToDoc(f))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (s *MongoStore) SetDefaultFlow(ctx context.Context, id int64) error {
	target, err := s.GetFlow(ctx, id)
	if err != nil {
		return err
	}

	scopeFilter := bson.M{"subject_type": target.SubjectType}
	if target.SubjectScope == nil {
		scopeFilter["subject_scope"] = bson.M{"$exists": false}
	} else {
		scopeFilter["subject_scope"] = *target.SubjectScope
	}

	if _, err := s.flows().UpdateMany(ctx, scopeFilter, bson.M{"$set": bson.M{"is_default": false}}); err != nil {
		return err
	}
	_, err = s.flows().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_default": true}})
	return err
}

func (s *MongoStore) SoftDeleteFlow(ctx context.Context, id int64) error {
	return s.setLifecycle(ctx, id, api.LifecycleSoftDeleted)
}

func (s *MongoStore) RestoreFlow(ctx context.Context, id int64) error {
	return s.setLifecycle(ctx, id, api.LifecycleActive)
}

func (s *MongoStore) setLifecycle(ctx context.Context, id int64, lc api.Lifecycle) error {
	res, err := s.flows().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lifecycle": string(lc)}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (s *MongoStore) ForceDeleteFlow(ctx context.Context, id int64) error {
	res, err := s.flows().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrFlowNotFound
	}
	if _, err := s.states().DeleteMany(ctx, bson.M{"flow_id": id}); err != nil {
		return err
	}
	_, err = s.transitions().DeleteMany(ctx, bson.M{"flow_id": id})
	return err
}

func (s *MongoStore) CreateState(ctx context.Context, st *api.State) error {
	id, err := s.nextID(ctx, "states")
	if err != nil {
		return err
	}
	st.ID = id

	_, err = s.states().InsertOne(ctx, mongoStateDoc{
		ID:         st.ID,
		FlowID:     st.FlowID,
		Type:       string(st.Type),
		Status:     st.Status,
		Color:      st.Config.Color,
		X:          st.Config.X,
		Y:          st.Config.Y,
		IsTerminal: st.Config.IsTerminal,
	})
	return err
}

func docToState(d mongoStateDoc) *api.State {
	return &api.State{
		ID:     d.ID,
		FlowID: d.FlowID,
		Type:   api.StateType(d.Type),
		Status: d.Status,
		Config: api.StateConfig{
			Color:      d.Color,
			X:          d.X,
			Y:          d.Y,
			IsTerminal: d.IsTerminal,
		},
	}
}

func (s *MongoStore) GetState(ctx context.Context, id int64) (*api.State, error) {
	var doc mongoStateDoc
	err := s.states().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return docToState(doc), nil
}

func (s *MongoStore) ListStates(ctx context.Context, flowID int64) ([]*api.State, error) {
	cur, err := s.states().Find(ctx, bson.M{"flow_id": flowID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var states []*api.State
	for cur.Next(ctx) {
		var doc mongoStateDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		states = append(states, docToState(doc))
	}
	return states, cur.Err()
}

func (s *MongoStore) UpdateState(ctx context.Context, st *api.State) error {
	res, err := s.states().ReplaceOne(ctx, bson.M{"_id": st.ID}, mongoStateDoc{
		ID:         st.ID,
		FlowID:     st.FlowID,
		Type:       string(st.Type),
		Status:     st.Status,
		Color:      st.Config.Color,
		X:          st.Config.X,
		Y:          st.Config.Y,
		IsTerminal: st.Config.IsTerminal,
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrStateNotFound
	}
	return nil
}

func (s *MongoStore) DeleteState(ctx context.Context, id int64) error {
	res, err := s.states().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrStateNotFound
	}
	return nil
}

func (s *MongoStore) CreateTransition(ctx context.Context, t *api.Transition) error {
	id, err := s.nextID(ctx, "transitions")
	if err != nil {
		return err
	}
	t.ID = id

	_, err = s.transitions().InsertOne(ctx, mongoTransitionDoc{
		ID:     t.ID,
		FlowID: t.FlowID,
		From:   t.From,
		To:     t.To,
		Slug:   t.Slug,
		Tasks:  t.Tasks,
	})
	return err
}

func docToTransition(d mongoTransitionDoc) *api.Transition {
	return &api.Transition{
		ID:     d.ID,
		FlowID: d.FlowID,
		From:   d.From,
		To:     d.To,
		Slug:   d.Slug,
		Tasks:  d.Tasks,
	}
}

func (s *MongoStore) GetTransition(ctx context.Context, id int64) (*api.Transition, error) {
	var doc mongoTransitionDoc
	err := s.transitions().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTransitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return docToTransition(doc), nil
}

func (s *MongoStore) ListTransitions(ctx context.Context, flowID int64) ([]*api.Transition, error) {
	cur, err := s.transitions().Find(ctx, bson.M{"flow_id": flowID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var transitions []*api.Transition
	for cur.Next(ctx) {
		var doc mongoTransitionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		transitions = append(transitions, docToTransition(doc))
	}
	return transitions, cur.Err()
}

func (s *MongoStore) UpdateTransition(ctx context.Context, t *api.Transition) error {
	res, err := s.transitions().ReplaceOne(ctx, bson.M{"_id": t.ID}, mongoTransitionDoc{
		ID:     t.ID,
		FlowID: t.FlowID,
		From:   t.From,
		To:     t.To,
		Slug:   t.Slug,
		Tasks:  t.Tasks,
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTransitionNotFound
	}
	return nil
}

func (s *MongoStore) DeleteTransition(ctx context.Context, id int64) error {
	res, err := s.transitions().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrTransitionNotFound
	}
	return nil
}

func (s *MongoStore) FindTransitionBySlug(ctx context.Context, subjectType, slug string) (*api.Transition, error) {
	cur, err := s.flows().Find(ctx, bson.M{"subject_type": subjectType})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var flowIDs []int64
	for cur.Next(ctx) {
		var doc struct {
			ID int64 `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		flowIDs = append(flowIDs, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(flowIDs) == 0 {
		return nil, ErrTransitionNotFound
	}

	var doc mongoTransitionDoc
	err = s.transitions().FindOne(ctx, bson.M{
		"flow_id": bson.M{"$in": flowIDs},
		"slug":    slug,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTransitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return docToTransition(doc), nil
}

package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
	"github.com/stretchr/testify/assert"
)

// fakeAPI records every request and answers with the configured outputs.
type fakeAPI struct {
	gets    []*sdk.GetItemInput
	puts    []*sdk.PutItemInput
	updates []*sdk.UpdateItemInput
	deletes []*sdk.DeleteItemInput
	scans   []*sdk.ScanInput
	batches []*sdk.BatchWriteItemInput

	getOut    *sdk.GetItemOutput
	updateOut *sdk.UpdateItemOutput
	deleteOut *sdk.DeleteItemOutput
	scanOuts  []*sdk.ScanOutput
	batchOuts []*sdk.BatchWriteItemOutput
	err       error
}

func (f *fakeAPI) GetItem(ctx context.Context, in *sdk.GetItemInput, _ ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	f.gets = append(f.gets, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.getOut == nil {
		return &sdk.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeAPI) PutItem(ctx context.Context, in *sdk.PutItemInput, _ ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sdk.PutItemOutput{}, nil
}

func (f *fakeAPI) UpdateItem(ctx context.Context, in *sdk.UpdateItemInput, _ ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.updateOut, nil
}

func (f *fakeAPI) DeleteItem(ctx context.Context, in *sdk.DeleteItemInput, _ ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	f.deletes = append(f.deletes, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.deleteOut == nil {
		return &sdk.DeleteItemOutput{}, nil
	}
	return f.deleteOut, nil
}

func (f *fakeAPI) Scan(ctx context.Context, in *sdk.ScanInput, _ ...func(*sdk.Options)) (*sdk.ScanOutput, error) {
	cp := *in
	f.scans = append(f.scans, &cp)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.scanOuts) == 0 {
		return &sdk.ScanOutput{}, nil
	}
	out := f.scanOuts[0]
	f.scanOuts = f.scanOuts[1:]
	return out, nil
}

func (f *fakeAPI) BatchWriteItem(ctx context.Context, in *sdk.BatchWriteItemInput, _ ...func(*sdk.Options)) (*sdk.BatchWriteItemOutput, error) {
	f.batches = append(f.batches, in)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batchOuts) == 0 {
		return &sdk.BatchWriteItemOutput{}, nil
	}
	out := f.batchOuts[0]
	f.batchOuts = f.batchOuts[1:]
	return out, nil
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func newTestTable(api *fakeAPI) *Table {
	return &Table{
		Client:    api,
		Entity:    "payments",
		TableName: "gd_payments",
		now:       func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	}
}

func Test_Table_Filter(t *testing.T) {
	t.Run("nil values are not part of the filter", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{scanOuts: []*sdk.ScanOutput{{
			Items: []map[string]types.AttributeValue{
				{"id": s("p1"), "client_id": s("c1"), "amount": n("500"), "created_date": s("2024-01-02T00:00:00Z")},
			},
		}}}
		tbl := newTestTable(api)

		actual, err := tbl.Filter(context.Background(), entity.Criteria{"client_id": "c1", "status": nil}, entity.ListOptions{})

		if !assert.NoError(err) {
			return
		}
		if assert.Len(api.scans, 1) {
			in := api.scans[0]
			assert.Equal("gd_payments", aws.ToString(in.TableName))
			assert.Equal("#n0 = :v0_0", aws.ToString(in.FilterExpression))
			assert.Equal(map[string]string{"#n0": "client_id"}, in.ExpressionAttributeNames)
			assert.Equal(s("c1"), in.ExpressionAttributeValues[":v0_0"])
		}
		assert.Equal([]entity.Record{{"id": "p1", "client_id": "c1", "amount": int64(500), "created_date": "2024-01-02T00:00:00Z"}}, actual)
	})

	t.Run("slices become IN", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{}
		tbl := newTestTable(api)

		_, err := tbl.Filter(context.Background(), entity.Criteria{"status": []string{"paid", "due"}, "client_id": "c1"}, entity.ListOptions{})

		if !assert.NoError(err) || !assert.Len(api.scans, 1) {
			return
		}
		assert.Equal("#n0 = :v0_0 AND #n1 IN (:v1_0, :v1_1)", aws.ToString(api.scans[0].FilterExpression))
		assert.Equal(s("due"), api.scans[0].ExpressionAttributeValues[":v1_1"])
	})

	t.Run("large sets are split into IN groups", func(t *testing.T) {
		assert := assert.New(t)

		statuses := make([]string, 250)
		for i := range statuses {
			statuses[i] = fmt.Sprintf("s%d", i)
		}
		api := &fakeAPI{}
		tbl := newTestTable(api)

		_, err := tbl.Filter(context.Background(), entity.Criteria{"status": statuses}, entity.ListOptions{})

		if !assert.NoError(err) || !assert.Len(api.scans, 1) {
			return
		}
		in := api.scans[0]
		filter := aws.ToString(in.FilterExpression)
		assert.Len(in.ExpressionAttributeValues, 250)
		assert.Equal(3, strings.Count(filter, "#n0 IN ("))
		assert.Equal(2, strings.Count(filter, " OR "))
		assert.True(strings.HasPrefix(filter, "(#n0 IN (:v0_0, "), filter)
		assert.Contains(filter, ":v0_99) OR #n0 IN (:v0_100, ")
		assert.Contains(filter, ":v0_199) OR #n0 IN (:v0_200, ")
		assert.True(strings.HasSuffix(filter, ":v0_249))"), filter)
		for _, group := range strings.Split(filter, " OR ") {
			assert.LessOrEqual(strings.Count(group, ":v0_"), 100)
		}
	})

	t.Run("set too large for a filter is refused", func(t *testing.T) {
		assert := assert.New(t)

		statuses := make([]string, 1000)
		for i := range statuses {
			statuses[i] = fmt.Sprintf("s%d", i)
		}
		api := &fakeAPI{}
		tbl := newTestTable(api)

		_, err := tbl.Filter(context.Background(), entity.Criteria{"status": statuses}, entity.ListOptions{})

		assert.ErrorIs(err, grantdesk.ErrBadArgument)
		assert.Empty(api.scans)
	})

	t.Run("empty set does not scan", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{}
		tbl := newTestTable(api)

		actual, err := tbl.Filter(context.Background(), entity.Criteria{"status": []string{}}, entity.ListOptions{})

		assert.NoError(err)
		assert.Empty(actual)
		assert.Empty(api.scans)
	})

	t.Run("follows pagination and sorts by creation", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{scanOuts: []*sdk.ScanOutput{
			{
				Items:            []map[string]types.AttributeValue{{"id": s("p2"), "created_date": s("2024-01-02T00:00:00Z")}},
				LastEvaluatedKey: map[string]types.AttributeValue{"id": s("p2")},
			},
			{
				Items: []map[string]types.AttributeValue{{"id": s("p1"), "created_date": s("2024-01-01T00:00:00Z")}},
			},
		}}
		tbl := newTestTable(api)

		actual, err := tbl.List(context.Background(), entity.ListOptions{})

		if !assert.NoError(err) {
			return
		}
		assert.Len(api.scans, 2)
		assert.Equal(s("p2"), api.scans[1].ExclusiveStartKey["id"])
		if assert.Len(actual, 2) {
			assert.Equal("p1", actual[0].ID())
			assert.Equal("p2", actual[1].ID())
		}
	})

	t.Run("scan error is surfaced", func(t *testing.T) {
		assert := assert.New(t)

		boom := errors.New("throttled")
		tbl := newTestTable(&fakeAPI{err: boom})

		_, err := tbl.List(context.Background(), entity.ListOptions{})

		assert.ErrorIs(err, boom)
		assert.ErrorIs(err, grantdesk.ErrDB)
	})
}

func Test_Table_Count(t *testing.T) {
	assert := assert.New(t)

	api := &fakeAPI{scanOuts: []*sdk.ScanOutput{
		{Count: 3, LastEvaluatedKey: map[string]types.AttributeValue{"id": s("x")}},
		{Count: 2},
	}}
	tbl := newTestTable(api)

	total, err := tbl.Count(context.Background(), nil)

	if !assert.NoError(err) {
		return
	}
	assert.Equal(5, total)
	assert.Equal(types.SelectCount, api.scans[0].Select)
	assert.Nil(api.scans[0].FilterExpression)
}

func Test_Table_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{getOut: &sdk.GetItemOutput{Item: map[string]types.AttributeValue{
			"id":     s("p1"),
			"amount": n("12.5"),
			"paid":   &types.AttributeValueMemberBOOL{Value: true},
		}}}
		tbl := newTestTable(api)

		actual, err := tbl.Get(context.Background(), "p1")

		if !assert.NoError(err) {
			return
		}
		assert.Equal(entity.Record{"id": "p1", "amount": 12.5, "paid": true}, actual)
		assert.Equal(s("p1"), api.gets[0].Key["id"])
	})

	t.Run("not found", func(t *testing.T) {
		assert := assert.New(t)

		tbl := newTestTable(&fakeAPI{})

		_, err := tbl.Get(context.Background(), "p1")

		assert.ErrorIs(err, grantdesk.ErrNotFound)
	})
}

func Test_Table_Create(t *testing.T) {
	t.Run("conditional put", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{}
		tbl := newTestTable(api)

		created, err := tbl.Create(context.Background(), entity.Record{"client_id": "c1", "amount": 40})

		if !assert.NoError(err) || !assert.Len(api.puts, 1) {
			return
		}
		put := api.puts[0]
		assert.Equal("attribute_not_exists(#id)", aws.ToString(put.ConditionExpression))
		assert.Equal(n("40"), put.Item["amount"])
		assert.NotEmpty(created.ID())
		assert.Equal(int64(40), created["amount"])
		assert.Equal("2024-05-01T09:00:00Z", created[entity.FieldCreated])
	})

	t.Run("existing id", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{err: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
		tbl := newTestTable(api)

		_, err := tbl.Create(context.Background(), entity.Record{"id": "p1"})

		assert.ErrorIs(err, grantdesk.ErrAlreadyExists)
		assert.ErrorIs(err, grantdesk.ErrDB)
	})
}

func Test_Table_Update(t *testing.T) {
	t.Run("set expression", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{updateOut: &sdk.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
			"id": s("p1"), "status": s("paid"),
		}}}
		tbl := newTestTable(api)

		actual, err := tbl.Update(context.Background(), "p1", entity.Record{"status": "paid", "id": "ignored"})

		if !assert.NoError(err) || !assert.Len(api.updates, 1) {
			return
		}
		in := api.updates[0]
		assert.Equal("SET #f0 = :v0, #f1 = :v1", aws.ToString(in.UpdateExpression))
		assert.Equal(map[string]string{"#id": "id", "#f0": "status", "#f1": "updated_date"}, in.ExpressionAttributeNames)
		assert.Equal("attribute_exists(#id)", aws.ToString(in.ConditionExpression))
		assert.Equal(types.ReturnValueAllNew, in.ReturnValues)
		assert.Equal(entity.Record{"id": "p1", "status": "paid"}, actual)
	})

	t.Run("missing record", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{err: &types.ConditionalCheckFailedException{Message: aws.String("missing")}}
		tbl := newTestTable(api)

		_, err := tbl.Update(context.Background(), "p1", entity.Record{"status": "paid"})

		assert.ErrorIs(err, grantdesk.ErrNotFound)
	})
}

func Test_Table_Delete(t *testing.T) {
	assert := assert.New(t)

	api := &fakeAPI{deleteOut: &sdk.DeleteItemOutput{Attributes: map[string]types.AttributeValue{"id": s("p1")}}}
	tbl := newTestTable(api)

	deleted, err := tbl.Delete(context.Background(), "p1")
	assert.NoError(err)
	assert.Equal("p1", deleted.ID())
	assert.Equal(types.ReturnValueAllOld, api.deletes[0].ReturnValues)

	api.deleteOut = nil
	_, err = tbl.Delete(context.Background(), "p1")
	assert.ErrorIs(err, grantdesk.ErrNotFound)
}

func Test_Table_CreateMany(t *testing.T) {
	t.Run("batches of 25", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{}
		tbl := newTestTable(api)

		recs := make([]entity.Record, 60)
		for i := range recs {
			recs[i] = entity.Record{"amount": i}
		}

		created, err := tbl.CreateMany(context.Background(), recs)

		if !assert.NoError(err) {
			return
		}
		assert.Len(created, 60)
		if assert.Len(api.batches, 3) {
			assert.Len(api.batches[0].RequestItems["gd_payments"], 25)
			assert.Len(api.batches[1].RequestItems["gd_payments"], 25)
			assert.Len(api.batches[2].RequestItems["gd_payments"], 10)
		}
	})

	t.Run("unprocessed items are resent", func(t *testing.T) {
		assert := assert.New(t)

		leftover := types.WriteRequest{PutRequest: &types.PutRequest{Item: map[string]types.AttributeValue{"id": s("p2")}}}
		api := &fakeAPI{batchOuts: []*sdk.BatchWriteItemOutput{
			{UnprocessedItems: map[string][]types.WriteRequest{"gd_payments": {leftover}}},
			{},
		}}
		tbl := newTestTable(api)

		_, err := tbl.CreateMany(context.Background(), []entity.Record{{"id": "p1"}, {"id": "p2"}})

		if !assert.NoError(err) || !assert.Len(api.batches, 2) {
			return
		}
		assert.Equal([]types.WriteRequest{leftover}, api.batches[1].RequestItems["gd_payments"])
	})

	t.Run("empty input", func(t *testing.T) {
		assert := assert.New(t)

		api := &fakeAPI{}
		created, err := newTestTable(api).CreateMany(context.Background(), nil)

		assert.NoError(err)
		assert.NotNil(created)
		assert.Empty(created)
		assert.Empty(api.batches)
	})
}

func Test_Table_Search(t *testing.T) {
	assert := assert.New(t)

	api := &fakeAPI{scanOuts: []*sdk.ScanOutput{{
		Items: []map[string]types.AttributeValue{
			{"id": s("c1"), "name": s("Riverside Arts Council")},
			{"id": s("c2"), "name": s("Hilltop Clinic")},
		},
	}}}
	tbl := newTestTable(api)

	found, err := tbl.Search(context.Background(), "name", "ARTS")

	if !assert.NoError(err) {
		return
	}
	assert.Equal("attribute_exists(#c)", aws.ToString(api.scans[0].FilterExpression))
	if assert.Len(found, 1) {
		assert.Equal("c1", found[0].ID())
	}
}

func Test_Store_Entity(t *testing.T) {
	assert := assert.New(t)

	st := New(&fakeAPI{}, "gd_")

	repo := st.Entity("clients")
	assert.Equal("clients", repo.Name())
	assert.Equal("gd_clients", repo.(*Table).TableName)

	_, err := st.Entity("1bad").Count(context.Background(), nil)
	assert.ErrorIs(err, grantdesk.ErrBadArgument)
}

package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/grantdesk/grantdesk"
	"github.com/grantdesk/grantdesk/entity"
)

// batchSize is the most items BatchWriteItem accepts in one request.
const batchSize = 25

// maxBatchRetries bounds how many times unprocessed items are resent.
const maxBatchRetries = 5

// Table is an entity.Repo for a single DynamoDB table. Filtering and counting
// are done with Scan and a filter expression; sorting and paging are applied
// to the scanned records.
type Table struct {
	Client    API
	Entity    string
	TableName string

	now func() time.Time
}

func (t *Table) Name() string {
	return t.Entity
}

func (t *Table) List(ctx context.Context, opts entity.ListOptions) ([]entity.Record, error) {
	return t.Filter(ctx, nil, opts)
}

func (t *Table) Filter(ctx context.Context, crit entity.Criteria, opts entity.ListOptions) ([]entity.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	expr, err := filterExpression(crit)
	if err != nil {
		return nil, err
	}
	if expr.none {
		return []entity.Record{}, nil
	}

	recs, err := t.scan(ctx, expr, "filter")
	if err != nil {
		return nil, err
	}

	// scan order is arbitrary, so fall back to creation order.
	if opts.Sort == "" {
		opts.Sort = entity.FieldCreated
	}
	return entity.SortAndPage(recs, opts), nil
}

func (t *Table) Get(ctx context.Context, id string) (entity.Record, error) {
	out, err := t.Client.GetItem(ctx, &sdk.GetItemInput{
		TableName:      aws.String(t.TableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, wrapErr(err, t.Entity, "get")
	}
	if len(out.Item) == 0 {
		return nil, t.notFound(id)
	}
	return fromItem(out.Item)
}

// Create puts the record only if no record with its ID exists.
func (t *Table) Create(ctx context.Context, rec entity.Record) (entity.Record, error) {
	prepared, err := t.prepare(rec, t.clock())
	if err != nil {
		return nil, err
	}
	item, err := toItem(prepared)
	if err != nil {
		return nil, err
	}

	_, err = t.Client.PutItem(ctx, &sdk.PutItemInput{
		TableName:                aws.String(t.TableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": entity.FieldID},
	})
	if err != nil {
		return nil, wrapErr(err, t.Entity, "create")
	}

	// the stored item is exactly what was sent, so decode it rather than
	// reading it back.
	return fromItem(item)
}

func (t *Table) Update(ctx context.Context, id string, patch entity.Record) (entity.Record, error) {
	patch = entity.NormalizeRecord(patch)
	if patch == nil {
		patch = entity.Record{}
	}
	delete(patch, entity.FieldID)
	if patch[entity.FieldUpdated] == nil {
		patch[entity.FieldUpdated] = entity.Timestamp(t.clock())
	}

	names := make([]string, 0, len(patch))
	for k := range patch {
		if err := entity.ValidateName(k); err != nil {
			return nil, err
		}
		names = append(names, k)
	}
	sort.Strings(names)

	attrNames := map[string]string{"#id": entity.FieldID}
	attrValues := map[string]types.AttributeValue{}
	sets := make([]string, len(names))
	for i, n := range names {
		namePH := fmt.Sprintf("#f%d", i)
		valPH := fmt.Sprintf(":v%d", i)

		av, err := attributevalue.Marshal(patch[n])
		if err != nil {
			return nil, grantdesk.NewError(fmt.Sprintf("encode %s: %v", n, err), grantdesk.ErrBadArgument)
		}
		attrNames[namePH] = n
		attrValues[valPH] = av
		sets[i] = namePH + " = " + valPH
	}

	out, err := t.Client.UpdateItem(ctx, &sdk.UpdateItemInput{
		TableName:                 aws.String(t.TableName),
		Key:                       idKey(id),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  attrNames,
		ExpressionAttributeValues: attrValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, wrapErr(err, t.Entity, "update")
	}
	return fromItem(out.Attributes)
}

func (t *Table) Delete(ctx context.Context, id string) (entity.Record, error) {
	out, err := t.Client.DeleteItem(ctx, &sdk.DeleteItemInput{
		TableName:    aws.String(t.TableName),
		Key:          idKey(id),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, wrapErr(err, t.Entity, "delete")
	}
	if len(out.Attributes) == 0 {
		return nil, t.notFound(id)
	}
	return fromItem(out.Attributes)
}

// CreateMany writes the records with BatchWriteItem, in batches of 25.
// Unlike Create, it does not refuse to overwrite existing IDs, and a failure
// part way through leaves earlier batches written.
func (t *Table) CreateMany(ctx context.Context, recs []entity.Record) ([]entity.Record, error) {
	now := t.clock()
	created := make([]entity.Record, len(recs))
	reqs := make([]types.WriteRequest, len(recs))
	for i := range recs {
		prepared, err := t.prepare(recs[i], now)
		if err != nil {
			return nil, err
		}
		item, err := toItem(prepared)
		if err != nil {
			return nil, err
		}
		if created[i], err = fromItem(item); err != nil {
			return nil, err
		}
		reqs[i] = types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
	}

	for start := 0; start < len(reqs); start += batchSize {
		end := start + batchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		if err := t.writeBatch(ctx, reqs[start:end]); err != nil {
			return nil, err
		}
	}

	return created, nil
}

func (t *Table) writeBatch(ctx context.Context, batch []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{t.TableName: batch}
	for attempt := 0; len(pending[t.TableName]) > 0; attempt++ {
		if attempt > maxBatchRetries {
			return grantdesk.WrapDBErrorf(fmt.Errorf("%d items left unprocessed", len(pending[t.TableName])), "%s: create many", t.Entity)
		}
		out, err := t.Client.BatchWriteItem(ctx, &sdk.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return wrapErr(err, t.Entity, "create many")
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// Search returns every record whose column contains term, ignoring case.
// DynamoDB's contains() is case-sensitive, so only presence of the column is
// checked remotely.
func (t *Table) Search(ctx context.Context, column, term string) ([]entity.Record, error) {
	if err := entity.ValidateName(column); err != nil {
		return nil, err
	}

	expr := expression{
		filter: "attribute_exists(#c)",
		names:  map[string]string{"#c": column},
	}
	recs, err := t.scan(ctx, expr, "search")
	if err != nil {
		return nil, err
	}

	found := []entity.Record{}
	for _, rec := range recs {
		if entity.Contains(rec[column], term) {
			found = append(found, rec)
		}
	}
	return entity.SortAndPage(found, entity.ListOptions{Sort: entity.FieldCreated}), nil
}

func (t *Table) Count(ctx context.Context, crit entity.Criteria) (int, error) {
	expr, err := filterExpression(crit)
	if err != nil {
		return 0, err
	}
	if expr.none {
		return 0, nil
	}

	in := &sdk.ScanInput{
		TableName: aws.String(t.TableName),
		Select:    types.SelectCount,
	}
	expr.apply(in)

	total := 0
	for {
		out, err := t.Client.Scan(ctx, in)
		if err != nil {
			return 0, wrapErr(err, t.Entity, "count")
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (t *Table) scan(ctx context.Context, expr expression, verb string) ([]entity.Record, error) {
	in := &sdk.ScanInput{TableName: aws.String(t.TableName)}
	expr.apply(in)

	recs := []entity.Record{}
	for {
		out, err := t.Client.Scan(ctx, in)
		if err != nil {
			return nil, wrapErr(err, t.Entity, verb)
		}
		for _, item := range out.Items {
			rec, err := fromItem(item)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return recs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (t *Table) prepare(rec entity.Record, now time.Time) (entity.Record, error) {
	prepared := entity.NormalizeRecord(rec)
	if prepared == nil {
		prepared = entity.Record{}
	}
	for k := range prepared {
		if err := entity.ValidateName(k); err != nil {
			return nil, err
		}
	}

	if prepared[entity.FieldID] == nil {
		prepared[entity.FieldID] = uuid.NewString()
	} else {
		prepared[entity.FieldID] = prepared.ID()
	}

	ts := entity.Timestamp(now)
	if prepared[entity.FieldCreated] == nil {
		prepared[entity.FieldCreated] = ts
	}
	if prepared[entity.FieldUpdated] == nil {
		prepared[entity.FieldUpdated] = ts
	}
	return prepared, nil
}

func (t *Table) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *Table) notFound(id string) error {
	return grantdesk.NewError(fmt.Sprintf("%s %q", t.Entity, id), grantdesk.ErrNotFound)
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		entity.FieldID: &types.AttributeValueMemberS{Value: id},
	}
}

// expression is a Scan filter expression with its placeholders.
type expression struct {
	filter string
	names  map[string]string
	values map[string]types.AttributeValue

	// none is set when the criteria can match no record at all.
	none bool
}

func (e expression) apply(in *sdk.ScanInput) {
	if e.filter == "" {
		return
	}
	in.FilterExpression = aws.String(e.filter)
	in.ExpressionAttributeNames = e.names
	if len(e.values) > 0 {
		in.ExpressionAttributeValues = e.values
	}
}

func filterExpression(crit entity.Criteria) (expression, error) {
	conds, err := crit.Conditions()
	if err != nil {
		return expression{}, err
	}
	if len(conds) == 0 {
		return expression{}, nil
	}

	expr := expression{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
	}
	clauses := make([]string, len(conds))
	for i, c := range conds {
		namePH := fmt.Sprintf("#n%d", i)
		expr.names[namePH] = c.Column

		if c.Op == entity.OpIn && len(c.Values) == 0 {
			return expression{none: true}, nil
		}

		valPHs := make([]string, len(c.Values))
		for j, v := range c.Values {
			av, err := attributevalue.Marshal(v)
			if err != nil {
				return expression{}, grantdesk.NewError(fmt.Sprintf("%s: %v", c.Column, err), grantdesk.ErrBadArgument)
			}
			valPHs[j] = fmt.Sprintf(":v%d_%d", i, j)
			expr.values[valPHs[j]] = av
		}

		if c.Op == entity.OpIn {
			clauses[i] = inClause(namePH, valPHs)
		} else {
			clauses[i] = namePH + " = " + valPHs[0]
		}
	}

	expr.filter = strings.Join(clauses, " AND ")
	if len(expr.filter) > maxExpressionLen {
		return expression{}, grantdesk.NewError(fmt.Sprintf("criteria too large for a DynamoDB filter (%d bytes, max %d)", len(expr.filter), maxExpressionLen), grantdesk.ErrBadArgument)
	}
	return expr, nil
}

// DynamoDB limits on condition expressions.
const (
	maxInOperands    = 100
	maxExpressionLen = 4096
)

// inClause matches name against valPHs, OR-ing together as many IN groups as
// needed to stay under maxInOperands per IN.
func inClause(name string, valPHs []string) string {
	var groups []string
	for len(valPHs) > 0 {
		n := min(len(valPHs), maxInOperands)
		groups = append(groups, name+" IN ("+strings.Join(valPHs[:n], ", ")+")")
		valPHs = valPHs[n:]
	}
	if len(groups) == 1 {
		return groups[0]
	}
	return "(" + strings.Join(groups, " OR ") + ")"
}
